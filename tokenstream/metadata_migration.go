// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tokenstream

import (
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/pkg/errors"
)

// migrateMetadata migrates st from its version to the current minor version.
//
// Migration moves the metadata forwards one version at a time until it reaches
// the latest version.
func migrateMetadata(st *structpb.Struct) error {
	for {
		curVersion := int(numberField(st, "minor"))
		if curVersion == metadataMinorVersion {
			return nil
		}

		switch curVersion {
		case 0:
			migrateMetadata0_1(st)
		default:
			return errors.Errorf("unknown metadata minor version %d", curVersion)
		}

		// Enforce that each migration step must advance the version.
		if int(numberField(st, "minor")) <= curVersion {
			return errors.New("migration did not advance version")
		}
	}
}

// migrateMetadata0_1 renames "num_events" to "num_tokens" and adds an empty
// per-family breakdown, which minor version 0 did not track.
func migrateMetadata0_1(st *structpb.Struct) {
	if st.Fields == nil {
		st.Fields = make(map[string]*structpb.Value)
	}
	if v, ok := st.Fields["num_events"]; ok {
		st.Fields["num_tokens"] = v
		delete(st.Fields, "num_events")
	}
	if _, ok := st.Fields["family_tokens"]; !ok {
		st.Fields["family_tokens"] = structValue(nil)
	}
	st.Fields["minor"] = numberValue(1)
}
