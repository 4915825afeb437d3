package store

import "errors"

// caPath is fixed rather than schema-resolved: the CA blob is
// infrastructure the store itself secures access to (§6 mTLS), not part
// of the versioned cluster data model §4.1's schema migration covers.
const caPath = "security/ca"

// errCANotFound is returned by GetCA before any CA has been saved.
var errCANotFound = errors.New("store: no CA saved")

// SaveCA persists the certificate authority's serialized root key/cert
// pair, satisfying pkg/security.CAStore.
func (s *Store) SaveCA(data []byte) error {
	return s.Write([]WriteOp{{Path: caPath, Value: data}})
}

// GetCA returns the previously saved CA blob, satisfying
// pkg/security.CAStore.
func (s *Store) GetCA() ([]byte, error) {
	data, ok := s.Read(caPath)
	if !ok {
		return nil, errCANotFound
	}
	return data, nil
}
