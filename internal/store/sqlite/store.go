package sqlite

// Store pairs the single Writer with a Reader on the same file. It satisfies
// model.QuoteStore and model.IndicatorWriter.
type Store struct {
	*Writer
	*Reader

	path string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		return nil, err
	}
	r, err := NewReader(path)
	if err != nil {
		w.Close()
		return nil, err
	}
	return &Store{Writer: w, Reader: r, path: path}, nil
}

// Path returns the database file path, for opening extra readers.
func (s *Store) Path() string { return s.path }

// Close closes both connections.
func (s *Store) Close() error {
	rerr := s.Reader.Close()
	if err := s.Writer.Close(); err != nil {
		return err
	}
	return rerr
}
