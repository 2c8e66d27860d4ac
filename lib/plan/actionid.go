// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/buildexec/lib/downward"
)

// actionIDDomainKey separates action ids from every other BLAKE3 use.
var actionIDDomainKey = [32]byte{
	'b', 'u', 'r', 'e', 'a', 'u', '.', 'b', 'u', 'i', 'l', 'd', 'e', 'x', 'e', 'c',
	'.', 'a', 'c', 't', 'i', 'o', 'n', '-', 'i', 'd', 0, 0, 0, 0, 0, 0,
}

// actionIDBytes is the length of the hash prefix an ActionID encodes.
const actionIDBytes = 12

// ActionID derives the wire identifier of ruleName within the build
// identified by buildUUID.
func ActionID(buildUUID, ruleName string) downward.ActionID {
	hasher, err := blake3.NewKeyed(actionIDDomainKey[:])
	if err != nil {
		panic("plan: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(buildUUID))
	hasher.Write([]byte{0})
	hasher.Write([]byte(ruleName))
	sum := hasher.Sum(nil)
	return downward.ActionID(hex.EncodeToString(sum[:actionIDBytes]))
}

// ActionIDs returns the ActionID of every rule, in plan order.
func (p *Plan) ActionIDs(buildUUID string) []downward.ActionID {
	ids := make([]downward.ActionID, len(p.Rules))
	for index, rule := range p.Rules {
		ids[index] = ActionID(buildUUID, rule.Name)
	}
	return ids
}
