// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"github.com/btrekkie/file-builder/lib/fingerprint"
)

// Comparison decides whether a rebuilt output file is semantically
// equal to the previous build's output. When it reports equality, the
// content token that dependent operations observed last build is kept,
// so cache entries downstream of the output do not invalidate even
// though the bytes on disk changed.
//
// Implementations must be pure, total, and symmetric: the result may
// depend only on the two files' contents, Equal(a, b) == Equal(b, a),
// and an error return is reserved for I/O failure. Both paths refer
// to existing regular files when Equal is called.
type Comparison interface {
	Equal(prev, next string) (bool, error)
}

// ComparisonFunc adapts a function to the Comparison interface.
type ComparisonFunc func(prev, next string) (bool, error)

func (f ComparisonFunc) Equal(prev, next string) (bool, error) {
	return f(prev, next)
}

// ByContent compares outputs by content fingerprint: any byte change
// is a change. Passing it to BuildFileWithComparison is equivalent
// to calling BuildFile.
func ByContent() Comparison {
	return ComparisonFunc(func(prev, next string) (bool, error) {
		prevSum, err := fingerprint.File(prev)
		if err != nil {
			return false, err
		}
		nextSum, err := fingerprint.File(next)
		if err != nil {
			return false, err
		}
		return prevSum == nextSum, nil
	})
}
