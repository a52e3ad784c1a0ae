package catalog

// About describes the extractor itself: identity, capabilities, and the
// settings it accepts. Emitted by the about command for operator tooling.
type About struct {
	Name         string                 `json:"name"`
	Version      string                 `json:"version"`
	Capabilities []string               `json:"capabilities"`
	Settings     map[string]interface{} `json:"settings"`
	Streams      []string               `json:"streams"`
}

// NewAbout builds the about document for the given build version
func NewAbout(version string) *About {
	c := Discover()
	streams := make([]string, 0, len(c.Streams))
	for _, s := range c.Streams {
		streams = append(streams, s.Name)
	}

	return &About{
		Name:         "tap-adp",
		Version:      version,
		Capabilities: []string{"about", "discover", "catalog", "state", "stream-maps"},
		Settings: objectSchema(map[string]interface{}{
			"api_url":          stringType(),
			"auth_url":         stringType(),
			"auth_mode":        stringType(),
			"client_id":        stringType(),
			"client_secret":    stringType(),
			"cert_public":      stringType(),
			"cert_private":     stringType(),
			"start_date":       stringType(),
			"user_agent":       stringType(),
			"select":           arrayType(),
			"stream_maps":      objectType(),
			"flatten_max_depth": map[string]interface{}{"type": []string{"integer", "null"}},
			"page_size":        map[string]interface{}{"type": []string{"integer", "null"}},
			"checkpoint_every":  map[string]interface{}{"type": []string{"integer", "null"}},
		}),
		Streams: streams,
	}
}
