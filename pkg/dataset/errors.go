package dataset

import "errors"

// ErrInvalidDataset is returned when a Dataset is constructed from, or
// parsed out of, a repository/source/date/port combination that does
// not satisfy the canonical filename grammar.
var ErrInvalidDataset = errors.New("invalid dataset")
