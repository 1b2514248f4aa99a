package ir

import "fmt"

// BlockPtr identifies a block on the indexed chain.
type BlockPtr struct {
	Number int64  `json:"number"`
	Hash   string `json:"hash"`
}

func (b BlockPtr) String() string {
	return fmt.Sprintf("#%d (%s)", b.Number, b.Hash)
}

// Manifest is the part of a deployment manifest the store cares about.
// Its canonical JSON form determines the deployment id.
type Manifest struct {
	SpecVersion string `json:"spec_version"`
	Network     string `json:"network"`
	StartBlock  int64  `json:"start_block"`
	Schema      Schema `json:"schema"`
}
