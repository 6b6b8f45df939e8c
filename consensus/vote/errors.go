// Copyright © 2019 Annchain Authors <EMAIL ADDRESS>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package vote

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol marks malformed messages. Dropped, never retried.
	ErrProtocol = errors.New("protocol violation")
	// ErrStaleVote marks ballots or results behind the current position.
	ErrStaleVote = errors.New("stale vote")
	// ErrDuplicateVote marks a signer voting twice in one (vote-round, stage).
	ErrDuplicateVote = errors.New("duplicate vote")
	// ErrAlreadyDecided marks ballots arriving after the tally was decided.
	ErrAlreadyDecided = errors.New("tally already decided")
	// ErrSignatureInvalid and ErrNotCommitteeMember are security relevant.
	ErrSignatureInvalid   = errors.New("invalid signature")
	ErrNotCommitteeMember = errors.New("not a committee member")
	// ErrThresholdNotMet marks a result whose signatures do not support its outcome.
	ErrThresholdNotMet = errors.New("threshold not met")
)

func protocolError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}
