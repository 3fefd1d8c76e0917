package nn

// Embedding is a vocabulary-by-Dim lookup table.
type Embedding struct {
	Weight []float32
	Dim    int
}

func (m *Embedding) Forward(out []float32, token int32) {
	copy(out, m.Row(token))
}

func (m *Embedding) Row(token int32) []float32 {
	i := int(token) * m.Dim
	return m.Weight[i : i+m.Dim]
}

// Rows is the vocabulary size.
func (m *Embedding) Rows() int {
	if m.Dim == 0 {
		return 0
	}
	return len(m.Weight) / m.Dim
}
