package tensor

// Dict is an insertion-ordered string -> tensor mapping.
type Dict struct {
	keys   []string
	values map[string]*Tensor
}

// NewDict returns an empty Dict.
func NewDict() *Dict {
	return &Dict{values: make(map[string]*Tensor)}
}

// Set inserts or replaces key. Replacing keeps the original position.
func (d *Dict) Set(key string, t *Tensor) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = t
}

// Get returns the tensor stored under key.
func (d *Dict) Get(key string) (*Tensor, bool) {
	t, ok := d.values[key]
	return t, ok
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	return append([]string(nil), d.keys...)
}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.keys) }
