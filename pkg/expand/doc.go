// Package expand renders `${key}` tokens in chart sources.
//
// Expansions are configured as nested maps and flattened into dotted keys,
// so that
//
//	expansions:
//	  image:
//	    tag: 1.2.3
//
// replaces `${image.tag}` with `1.2.3`. Unknown tokens are left untouched.
package expand
