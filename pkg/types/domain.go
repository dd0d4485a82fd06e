package types

// ModelStatus describes a registered model.
type ModelStatus struct {
	// Registered model name.
	// example: classification
	Name string `json:"name" example:"classification"`
	// Handler variant (classification, segmentation, fusion).
	// example: classification
	Kind string `json:"kind" example:"classification"`
	// Whether the runtime session is currently resident.
	// example: true
	Loaded bool `json:"loaded" example:"true"`
	// Path of the model artifact.
	// example: /srv/models/classification/simplest_model/bacterial_cnn.onnx
	ModelPath string `json:"model_path" example:"/srv/models/classification/simplest_model/bacterial_cnn.onnx"`
	// Whether this is the active model of the registry.
	// example: true
	Active bool `json:"active" example:"true"`
}
