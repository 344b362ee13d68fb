package kube

// Object represents a decoded Kubernetes resource as a map.
type Object map[string]any

// AsObject returns v as an [Object] when it is a map document.
func AsObject(v any) (Object, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}

	return Object(m), true
}

// GetKind returns the kind field of the Kubernetes resource.
func (o Object) GetKind() string {
	v, ok := o["kind"].(string)
	if !ok {
		return ""
	}

	return v
}

// GetName returns the metadata.name field of the Kubernetes resource.
func (o Object) GetName() string {
	metadata, ok := o["metadata"].(map[string]any)
	if !ok {
		return ""
	}

	v, ok := metadata["name"].(string)
	if !ok {
		return ""
	}

	return v
}

// Ref returns "Kind/name", using "?" for missing parts.
func (o Object) Ref() string {
	kind, name := o.GetKind(), o.GetName()
	if kind == "" {
		kind = "?"
	}

	if name == "" {
		name = "?"
	}

	return kind + "/" + name
}
