package parser_test

import (
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/JaimeStill/ktru/internal/parser"
)

func TestParse(t *testing.T) {
	p := parser.Default()

	tests := []struct {
		name    string
		text    string
		outcome parser.Outcome
		code    string
	}{
		{"empty", "", parser.NotFound, ""},
		{"whitespace", "  \n\t", parser.NotFound, ""},
		{"not found phrase", "код не найден", parser.NotFound, ""},
		{"not found phrase mixed case", "Код Не Найден.", parser.NotFound, ""},
		{"bare code", "26.20.11.110-00000001", parser.Matched, "26.20.11.110-00000001"},
		{"code with prose", "Код КТРУ: 26.20.11.110-00000001 (ноутбук)", parser.Matched, "26.20.11.110-00000001"},
		{"repeated code", "26.20.11.110-00000001, т.е. 26.20.11.110-00000001", parser.Matched, "26.20.11.110-00000001"},
		{"two codes", "26.20.11.110-00000001 или 26.20.11.110-00000002", parser.Ambiguous, ""},
		{"no code", "затрудняюсь ответить", parser.NotFound, ""},
		{"malformed code", "26.20.11.11-00000001", parser.NotFound, ""},
		{"embedded in digits", "126.20.11.110-000000012", parser.NotFound, ""},
		{"phrase wins over code", "26.20.11.110-00000001? код не найден", parser.NotFound, ""},
		{"json object", `{"ktru_code": "32.50.13.190-00000001"}`, parser.Matched, "32.50.13.190-00000001"},
		{"json null code", `{"ktru_code": null}`, parser.NotFound, ""},
		{"fenced json", "```json\n{\"ktru_code\": \"32.50.13.190-00000001\"}\n```", parser.Matched, "32.50.13.190-00000001"},
		{"json phrase", `{"ktru_code": "код не найден"}`, parser.NotFound, ""},
		{"json without field", `{"code": "32.50.13.190-00000001"}`, parser.Matched, "32.50.13.190-00000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.text)
			if got.Outcome != tt.outcome {
				t.Fatalf("Outcome = %s, want %s", got.Outcome, tt.outcome)
			}
			if tt.code == "" {
				if got.Code != nil {
					t.Errorf("Code = %s, want nil", *got.Code)
				}
				return
			}
			if got.Code == nil || *got.Code != tt.code {
				t.Errorf("Code = %v, want %s", got.Code, tt.code)
			}
		})
	}
}

func TestParseAmbiguousCandidates(t *testing.T) {
	got := parser.Default().Parse("26.20.11.110-00000001 / 26.20.11.110-00000002 / 26.20.11.110-00000001")
	if len(got.Candidates) != 2 {
		t.Fatalf("Candidates = %v, want 2 distinct", got.Candidates)
	}
}

func TestNew(t *testing.T) {
	if _, err := parser.New("([", ""); err == nil {
		t.Error("expected error for invalid pattern")
	}

	p, err := parser.New(`\bX-\d{3}\b`, "nothing")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := p.Parse("answer X-123"); got.Outcome != parser.Matched {
		t.Errorf("custom pattern outcome = %s", got.Outcome)
	}
	if got := p.Parse("NOTHING here"); got.Outcome != parser.NotFound {
		t.Errorf("custom phrase outcome = %s", got.Outcome)
	}
}

func TestValid(t *testing.T) {
	p := parser.Default()

	tests := []struct {
		in   string
		want bool
	}{
		{"26.20.11.110-00000001", true},
		{" 26.20.11.110-00000001", false},
		{"26.20.11.110-0000001", false},
		{"code 26.20.11.110-00000001", false},
	}

	for _, tt := range tests {
		if got := p.Valid(tt.in); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func genCode() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		d := func(n int) string {
			var b strings.Builder
			for range n {
				b.WriteByte(byte('0' + rapid.IntRange(0, 9).Draw(t, "digit")))
			}
			return b.String()
		}
		return fmt.Sprintf("%s.%s.%s.%s-%s", d(2), d(2), d(2), d(3), d(8))
	})
}

func TestParseProperties(t *testing.T) {
	p := parser.Default()
	filler := rapid.StringOf(rapid.RuneFrom([]rune("абвгдежзиклмопрстуфхцчшщэюя ,:;()ABCxyz")))

	t.Run("single code surrounded by prose is matched", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			code := genCode().Draw(t, "code")
			text := filler.Draw(t, "prefix") + " " + code + " " + filler.Draw(t, "suffix")

			got := p.Parse(text)
			if got.Outcome != parser.Matched || *got.Code != code {
				t.Fatalf("Parse(%q) = %+v", text, got)
			}
		})
	})

	t.Run("distinct codes are ambiguous", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			a := genCode().Draw(t, "a")
			b := genCode().Filter(func(s string) bool { return s != a }).Draw(t, "b")

			got := p.Parse(a + " " + filler.Draw(t, "sep") + " " + b)
			if got.Outcome != parser.Ambiguous || got.Code != nil {
				t.Fatalf("got %+v", got)
			}
		})
	})

	t.Run("code is only set when matched", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			got := p.Parse(rapid.String().Draw(t, "text"))
			if (got.Code != nil) != (got.Outcome == parser.Matched) {
				t.Fatalf("inconsistent result %+v", got)
			}
			if got.Code != nil && !p.Valid(*got.Code) {
				t.Fatalf("invalid code %q", *got.Code)
			}
		})
	})
}
