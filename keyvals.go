package statsite

// KeyVal collects every value observed for a key/value metric during an
// epoch. Each observation is emitted as its own record at flush.
type KeyVal struct {
	Values []float64
}

// Add appends an observation.
func (kv *KeyVal) Add(v float64) {
	kv.Values = append(kv.Values, v)
}
