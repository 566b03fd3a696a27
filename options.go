// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cfb

import (
	"time"

	"go.fuchsia.dev/cfb/header"
)

// Options configure a container. A nil *Options selects the defaults.
type Options struct {
	// Version selects the format of a new container: header.V3 (512-byte sectors, the default)
	// or header.V4 (4096-byte sectors). Opened containers keep their own version.
	Version header.Version

	// Lenient makes Open tolerate streams whose allocation chains are damaged. Such streams
	// fail with their *fs.CorruptChainError when opened, and Check reports them. Without
	// Lenient the first damaged chain fails Open.
	Lenient bool

	// Now returns the time stamped on new storages. It defaults to time.Now.
	Now func() time.Time
}

func (o *Options) withDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.Version == 0 {
		opts.Version = header.V3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}
