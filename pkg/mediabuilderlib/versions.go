// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

// ToolVersion is stamped at link time by the release build.
var ToolVersion = ""
