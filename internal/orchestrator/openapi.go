package orchestrator

import (
	"github.com/JaimeStill/ktru/pkg/middleware"
	"github.com/JaimeStill/ktru/pkg/openapi"
)

// Spec describes the orchestration endpoints mounted under basePath.
func Spec(cfg *openapi.Config, version, basePath string) *openapi.Spec {
	spec := openapi.NewSpec(cfg.Title, version)
	spec.SetDescription(cfg.Description)
	spec.AddServer(basePath)
	for _, url := range cfg.Servers {
		spec.AddServer(url)
	}
	spec.AddTag("Batches", "Submit and track classification batches")
	spec.AddTag("Provider", "Inbound provider notifications")
	spec.RequireAPIKey("ApiKey", middleware.APIKeyHeader)
	spec.Components.AddSchemas(schemas())

	batchID := openapi.PathParam("id", "Batch identifier (product_batch_<uuid>)")
	failures := func(codes ...int) map[int]*openapi.Response {
		out := map[int]*openapi.Response{}
		for _, c := range codes {
			out[c] = openapi.ResponseRef(responseNames[c])
		}
		return out
	}
	with := func(m map[int]*openapi.Response, code int, r *openapi.Response) map[int]*openapi.Response {
		m[code] = r
		return m
	}

	spec.Paths["/products/batch"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:     "Submit products for classification",
			Description: "Accepts a JSON array of products or an object with a products array.",
			Tags:        []string{"Batches"},
			RequestBody: openapi.RequestBodyJSON("SubmitRequest", true),
			Responses: with(failures(400, 401, 502, 503), 202,
				openapi.ResponseJSON("Batch accepted", "Envelope")),
		},
	}

	spec.Paths["/products/batch/{id}"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary: "Get batch status",
			Tags:    []string{"Batches"},
			Parameters: []*openapi.Parameter{
				batchID,
				openapi.QueryParam("include_products", "boolean", "Include products with ktru_code", false),
			},
			Responses: with(failures(401, 404, 503), 200,
				openapi.ResponseJSON("Batch", "Envelope")),
		},
	}

	spec.Paths["/products/batch/{id}/reconcile"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Poll outstanding provider jobs now",
			Tags:       []string{"Batches"},
			Parameters: []*openapi.Parameter{batchID},
			Responses: with(failures(401, 404, 503), 200,
				openapi.ResponseJSON("Batch", "Envelope")),
		},
	}

	spec.Paths["/products/batches"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary: "List batches",
			Tags:    []string{"Batches"},
			Parameters: []*openapi.Parameter{
				openapi.QueryParam("status", "string", "Filter by status", false),
				openapi.QueryParam("search", "string", "Batch id substring", false),
				openapi.QueryParam("page", "integer", "Page number (1-indexed)", false),
				openapi.QueryParam("page_size", "integer", "Results per page", false),
				openapi.QueryParam("sort", "string", "Sort fields, prefix - for descending", false),
			},
			Responses: with(failures(400, 401, 503), 200,
				openapi.ResponseJSON("Page of batches", "EnvelopePage")),
		},
	}

	spec.Paths["/provider/callback"] = &openapi.PathItem{
		Post: openapi.Public(&openapi.Operation{
			Summary:     "Provider job notification",
			Description: "Body must be signed with HMAC-SHA256 in the X-Signature header.",
			Tags:        []string{"Provider"},
			RequestBody: openapi.RequestBodyJSON("CallbackEvent", true),
			Responses: with(failures(400, 401, 404), 202,
				&openapi.Response{Description: "Callback accepted"}),
		}),
	}

	return spec
}

var responseNames = map[int]string{
	400: "BadRequest",
	401: "Unauthorized",
	404: "NotFound",
	502: "BadGateway",
	503: "ServiceUnavailable",
}

func schemas() map[string]*openapi.Schema {
	status := &openapi.Schema{
		Type: "string",
		Enum: []any{"pending", "processing", "completed", "partially_failed", "failed"},
	}

	product := &openapi.Schema{
		Type:        "object",
		Description: "Product record. Fields beyond those listed are carried verbatim.",
		Required:    []string{"id", "title"},
		Properties: map[string]*openapi.Schema{
			"id":          {Type: "string"},
			"title":       {Type: "string"},
			"description": {Type: "string"},
			"category":    {Type: "string"},
			"brand":       {Type: "string"},
			"attributes": {
				Type: "array",
				Items: &openapi.Schema{
					Type: "object",
					Properties: map[string]*openapi.Schema{
						"attr_name":  {Type: "string"},
						"attr_value": {Type: "string"},
					},
				},
			},
			"ktru_code": {Type: "string", Description: "Present on responses; null when no code was found", Example: "17.12.14.129-00000001"},
		},
	}

	return map[string]*openapi.Schema{
		"Product": product,
		"SubmitRequest": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"products": {Type: "array", Items: openapi.SchemaRef("Product")},
			},
		},
		"Envelope": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"batch_id":        {Type: "string", Example: "product_batch_3f1c9a5e-8a53-4f0e-9d3b-6f1e2a7c4b10"},
				"status":          status,
				"product_count":   {Type: "integer"},
				"processed_count": {Type: "integer"},
				"completed":       {Type: "boolean"},
				"reason":          {Type: "string"},
				"created_at":      {Type: "string", Format: "date-time"},
				"products":        {Type: "array", Items: openapi.SchemaRef("Product")},
			},
		},
		"EnvelopePage": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"data":         {Type: "array", Items: openapi.SchemaRef("Envelope")},
				"total":        {Type: "integer"},
				"page":         {Type: "integer"},
				"page_size":    {Type: "integer"},
				"total_pages":  {Type: "integer"},
				"has_next":     {Type: "boolean"},
				"has_previous": {Type: "boolean"},
			},
		},
		"CallbackEvent": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"type":              {Type: "string", Example: "message_batch.ended"},
				"id":                {Type: "string", Example: "msgbatch_01HkcTjaV5uDC8jWR4ZsDV8d"},
				"processing_status": {Type: "string", Example: "ended"},
			},
		},
	}
}
