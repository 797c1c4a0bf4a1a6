package notes

import "github.com/google/uuid"

// IDProvider issues client-side record identifiers.
type IDProvider interface {
	NewID() (RecordID, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (RecordID, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return RecordID(value.String()), nil
}
