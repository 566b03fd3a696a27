// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package directory

import (
	"encoding/binary"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
	textunicode "golang.org/x/text/encoding/unicode"

	"go.fuchsia.dev/cfb/fs"
)

// MaxNameLen is the maximum length of an entry name, in UTF-16 code units.
const MaxNameLen = 31

// nameBytes is the size of the name field, including the terminating null.
const nameBytes = 2 * (MaxNameLen + 1)

const illegalNameChars = `/\:!`

var utf16le = textunicode.UTF16(textunicode.LittleEndian, textunicode.IgnoreBOM)

// ValidateName checks that name can be stored in a directory entry.
func ValidateName(name string) error {
	if _, err := checkName(name); err != nil {
		return err
	}
	if strings.ContainsAny(name, illegalNameChars) {
		return errors.Wrapf(fs.ErrInvalidName, "%q contains one of %q", name, illegalNameChars)
	}
	return nil
}

// checkName validates the encoding and length of a name and returns its UTF-16 code units.
// It does not reject the characters forbidden in new names, so entries loaded from disk which
// use them stay readable.
func checkName(name string) ([]uint16, error) {
	if name == "" {
		return nil, errors.Wrap(fs.ErrInvalidName, "empty name")
	}
	if !utf8.ValidString(name) {
		return nil, errors.Wrapf(fs.ErrInvalidName, "%q is not valid UTF-8", name)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return nil, errors.Wrapf(fs.ErrInvalidName, "%q contains a null character", name)
	}
	units, err := encodeName(name)
	if err != nil {
		return nil, err
	}
	if len(units) > MaxNameLen {
		return nil, errors.Wrapf(fs.ErrInvalidName, "%q is %d UTF-16 code units long, limit is %d", name, len(units), MaxNameLen)
	}
	return units, nil
}

func encodeName(name string) ([]uint16, error) {
	b, err := utf16le.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, errors.Wrapf(fs.ErrInvalidName, "encoding %q: %v", name, err)
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return units, nil
}

func decodeName(b []byte) (string, error) {
	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(s), nil
}

// foldKey upper-cases each code unit on its own. Surrogates and code units whose upper case
// lies outside the basic multilingual plane are kept as they are.
func foldKey(units []uint16) []uint16 {
	key := make([]uint16, len(units))
	for i, u := range units {
		key[i] = u
		if u >= 0xD800 && u <= 0xDFFF {
			continue
		}
		if up := unicode.ToUpper(rune(u)); up <= 0xFFFF && (up < 0xD800 || up > 0xDFFF) {
			key[i] = uint16(up)
		}
	}
	return key
}

// compareKeys orders folded names: shorter names first, then code unit by code unit.
func compareKeys(a, b []uint16) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// CompareNames orders two names the way siblings are ordered in a directory tree: a shorter
// name (in UTF-16 code units) sorts first, and names of equal length compare code unit by code
// unit after upper-casing. It returns -1, 0 or +1.
func CompareNames(a, b string) int {
	ua, _ := encodeName(a)
	ub, _ := encodeName(b)
	return compareKeys(foldKey(ua), foldKey(ub))
}
