// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package dash

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// templateValues holds the substitution values for SegmentTemplate identifiers.
type templateValues struct {
	RepresentationID string
	Bandwidth        int64
	Number           int64
	Time             int64
}

var formattedIDRe = regexp.MustCompile(`\$(Number|Time|Bandwidth)%0(\d+)d\$`)

// fillTemplate substitutes $RepresentationID$, $Number$, $Time$ and
// $Bandwidth$ identifiers, including the %0Nd width forms, and unescapes $$.
func fillTemplate(tpl string, v templateValues) string {
	// Protect $$ so it cannot pair with identifier delimiters.
	const escape = "\x00"
	out := strings.ReplaceAll(tpl, "$$", escape)

	out = formattedIDRe.ReplaceAllStringFunc(out, func(match string) string {
		sub := formattedIDRe.FindStringSubmatch(match)
		width, _ := strconv.Atoi(sub[2])
		return fmt.Sprintf("%0*d", width, v.identifier(sub[1]))
	})
	out = strings.ReplaceAll(out, "$RepresentationID$", v.RepresentationID)
	out = strings.ReplaceAll(out, "$Number$", strconv.FormatInt(v.Number, 10))
	out = strings.ReplaceAll(out, "$Time$", strconv.FormatInt(v.Time, 10))
	out = strings.ReplaceAll(out, "$Bandwidth$", strconv.FormatInt(v.Bandwidth, 10))
	return strings.ReplaceAll(out, escape, "$")
}

func (v templateValues) identifier(name string) int64 {
	switch name {
	case "Number":
		return v.Number
	case "Time":
		return v.Time
	case "Bandwidth":
		return v.Bandwidth
	}
	return 0
}
