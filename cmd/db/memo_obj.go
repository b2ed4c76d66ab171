package db

type MemoObjType = byte

const (
	ObjValue MemoObjType = iota
	ObjQueue
)

type DataStore struct {
	Kind  MemoObjType
	Value string
	Queue *Queue
}

// TypeName is the name reported by the TYPE command.
func (s *DataStore) TypeName() string {
	if s == nil {
		return "none"
	}

	switch s.Kind {
	case ObjValue:
		return "string"
	case ObjQueue:
		return "list"
	}
	return "none"
}

func (s *DataStore) asValue() (string, bool) {
	return s.Value, s.Kind == ObjValue
}

func (s *DataStore) asQueue() (*Queue, bool) {
	return s.Queue, s.Kind == ObjQueue
}

// free gives back whatever the object holds to its allocator.
func (s *DataStore) free() {
	if q, ok := s.asQueue(); ok {
		q.Free()
	}
}
