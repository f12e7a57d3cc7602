// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package session

import (
	"encoding/json"

	kberr "github.com/kindbridge/kindbridge/pkg/errors"
	"github.com/kindbridge/kindbridge/pkg/types"
)

// encodeUser serializes the principal for the current_user key.
func encodeUser(u *types.User) (string, error) {
	if u == nil {
		return "", kberr.New(kberr.CodePersistInvalidInput, "cannot encode nil user")
	}

	raw, err := json.Marshal(u)
	if err != nil {
		return "", kberr.Wrap(err, kberr.CodePersistWriteFailure, "encoding user record",
			kberr.FieldUserID(u.ID))
	}
	return string(raw), nil
}

// decodeUser parses a serialized principal. Malformed JSON comes back as
// persist.record.corrupt so restoration can purge the key and continue.
func decodeUser(raw string) (*types.User, error) {
	var u types.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, kberr.Wrap(err, kberr.CodePersistRecordCorrupt, "decoding user record")
	}
	if u.ID == "" {
		return nil, kberr.New(kberr.CodePersistRecordCorrupt, "user record has no id")
	}
	return &u, nil
}
