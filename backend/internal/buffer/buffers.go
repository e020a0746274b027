package buffer

// SoftBody - буферы вершин и нормалей одного мягкого тела.
type SoftBody struct {
	UUID     string
	Vertices []float32
	Normals  []float32
}

// NewSoftBody выделяет буферы на vertexCount вершин.
func NewSoftBody(uuid string, vertexCount int, withNormals bool) *SoftBody {
	sb := &SoftBody{
		UUID:     uuid,
		Vertices: make([]float32, vertexCount*3),
	}
	if withNormals {
		sb.Normals = make([]float32, vertexCount*3)
	}
	return sb
}

// Buffers - весь разделяемый регион: твёрдые тела, отладка и мягкие тела.
//
// В режиме передачи владения значение Buffers служит токеном: у какой
// стороны непустой регион, та и владеет им.
type Buffers struct {
	Rigid      *Rigid
	Debug      *Debug
	SoftBodies []*SoftBody
}

// New выделяет регион по раскладке.
func New(l Layout) (*Buffers, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &Buffers{
		Rigid: NewRigid(l.MaxBodies),
		Debug: NewDebug(l.DebugVertexCapacity),
	}, nil
}

// Held сообщает, что регион не передан другой стороне.
func (b *Buffers) Held() bool {
	return b != nil && b.Rigid.Len() > 0
}

// Detach переносит владение в новый Buffers и оставляет b пустым.
func (b *Buffers) Detach() *Buffers {
	if !b.Held() {
		return &Buffers{}
	}
	out := &Buffers{
		Rigid:      &Rigid{words: b.Rigid.words, maxBodies: b.Rigid.maxBodies},
		Debug:      b.Debug.detach(),
		SoftBodies: b.SoftBodies,
	}
	b.Rigid.words = nil
	b.SoftBodies = nil
	return out
}

// Attach принимает владение регионом из src, оставляя src пустым.
func (b *Buffers) Attach(src *Buffers) {
	moved := src.Detach()
	b.Rigid = moved.Rigid
	b.Debug = moved.Debug
	b.SoftBodies = moved.SoftBodies
}

// SoftBody ищет буферы мягкого тела по идентификатору.
func (b *Buffers) SoftBody(uuid string) *SoftBody {
	for _, sb := range b.SoftBodies {
		if sb.UUID == uuid {
			return sb
		}
	}
	return nil
}
