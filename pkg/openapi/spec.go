package openapi

// Version is the OpenAPI document version emitted by NewSpec.
const Version = "3.1.0"

// Spec is an OpenAPI 3.1 document.
type Spec struct {
	OpenAPI    string                `json:"openapi"`
	Info       *Info                 `json:"info"`
	Servers    []*Server             `json:"servers,omitempty"`
	Tags       []*Tag                `json:"tags,omitempty"`
	Security   []SecurityRequirement `json:"security,omitempty"`
	Paths      map[string]*PathItem  `json:"paths"`
	Components *Components           `json:"components,omitempty"`
}

// NewSpec starts a document with the shared components.
func NewSpec(title, version string) *Spec {
	return &Spec{
		OpenAPI:    Version,
		Info:       &Info{Title: title, Version: version},
		Paths:      make(map[string]*PathItem),
		Components: NewComponents(),
	}
}

// AddServer appends a server. Duplicate URLs are ignored.
func (s *Spec) AddServer(url string, description ...string) {
	for _, srv := range s.Servers {
		if srv.URL == url {
			return
		}
	}

	srv := &Server{URL: url}
	if len(description) > 0 {
		srv.Description = description[0]
	}
	s.Servers = append(s.Servers, srv)
}

// AddTag declares an operation tag.
func (s *Spec) AddTag(name, description string) {
	s.Tags = append(s.Tags, &Tag{Name: name, Description: description})
}

// SetDescription sets info.description.
func (s *Spec) SetDescription(desc string) {
	s.Info.Description = desc
}

// RequireAPIKey registers an apiKey scheme read from header and applies
// it to every operation that does not override security.
func (s *Spec) RequireAPIKey(scheme, header string) {
	if s.Components.SecuritySchemes == nil {
		s.Components.SecuritySchemes = make(map[string]*SecurityScheme)
	}
	s.Components.SecuritySchemes[scheme] = &SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: header,
	}
	s.Security = append(s.Security, SecurityRequirement{scheme: {}})
}
