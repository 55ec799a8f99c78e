package store

type errorString string

func (e errorString) Error() string {
	return string(e)
}

const (
	// ErrKeyNotFound is returned by Get when the key has no value
	ErrKeyNotFound errorString = "key not found"

	// ErrStoreClosed is returned when operating on a store that is not open
	ErrStoreClosed errorString = "store is not open"

	// ErrUnknownKeySpace is returned for keyspaces outside the enumerated set
	ErrUnknownKeySpace errorString = "unknown keyspace"
)
