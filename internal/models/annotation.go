package models

// Annotation is one key/value tag attached to an outbound message.
type Annotation struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Annotations is an ordered list of tags. Duplicate keys are allowed and kept.
type Annotations []Annotation

// Get returns the value of the first annotation with the given key.
func (a Annotations) Get(key string) (string, bool) {
	for _, an := range a {
		if an.Key == key {
			return an.Value, true
		}
	}
	return "", false
}

// Keys returns the keys in order, duplicates included.
func (a Annotations) Keys() []string {
	keys := make([]string, len(a))
	for i, an := range a {
		keys[i] = an.Key
	}
	return keys
}

// Clone returns a copy that shares no backing array with a.
func (a Annotations) Clone() Annotations {
	if a == nil {
		return nil
	}
	out := make(Annotations, len(a))
	copy(out, a)
	return out
}
