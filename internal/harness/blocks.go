package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/queryir"
)

// Block is one block of entity writes, as read from a block file.
type Block struct {
	Number int64  `yaml:"block"`
	Hash   string `yaml:"hash,omitempty"`
	Ops    []Op   `yaml:"ops"`
}

// LoadBlocks reads a YAML (or JSON) file holding a list of blocks:
//
//	- block: 10
//	  hash: "0xabc"
//	  ops:
//	    - {op: set, entity: Token, id: A1, data: {owner: x}}
//	- block: 11
//	  ops:
//	    - {op: remove, entity: Token, id: A1}
func LoadBlocks(path string) ([]Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read block file: %w", err)
	}

	var blocks []Block
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&blocks); err != nil {
		return nil, fmt.Errorf("failed to parse block file: %w", err)
	}

	for i, b := range blocks {
		step := Step{Block: &blocks[i].Number, Hash: b.Hash, Ops: b.Ops}
		if err := validateStep(i, &step); err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

// Ptr returns the block pointer of b.
func (b Block) Ptr() ir.BlockPtr {
	return BlockPtr(b.Number, b.Hash)
}

// BlockPtr builds a block pointer, deriving a hash from the number when
// none is given.
func BlockPtr(number int64, hash string) ir.BlockPtr {
	if hash == "" {
		hash = fmt.Sprintf("0x%08x", number)
	}
	return ir.BlockPtr{Number: number, Hash: hash}
}

// Operations converts ops to entity operations. Field values are converted
// without schema knowledge; the store coerces them to column types.
func Operations(ops []Op) ([]ir.EntityOperation, error) {
	out := make([]ir.EntityOperation, 0, len(ops))
	for i, op := range ops {
		if op.Op == OpRemove {
			out = append(out, ir.Remove(op.Entity, op.ID))
			continue
		}
		data := make(ir.Entity, len(op.Data))
		for field, raw := range op.Data {
			v, err := ir.FromAny(raw)
			if err != nil {
				return nil, fmt.Errorf("ops[%d] %s[%s].%s: %w", i, op.Entity, op.ID, field, err)
			}
			data[field] = v
		}
		out = append(out, ir.Set(op.Entity, op.ID, data))
	}
	return out, nil
}

// Build translates the step into a query. Malformed where maps and orders
// are reported as *queryir.InvalidQueryError.
func (q *QueryStep) Build() (queryir.Query, error) {
	filter, err := queryir.ParseWhere(q.Where)
	if err != nil {
		return nil, &queryir.InvalidQueryError{Problems: []string{err.Error()}}
	}

	var order []queryir.Order
	if q.Order != "" {
		o, err := queryir.ParseOrder(q.Order)
		if err != nil {
			return nil, &queryir.InvalidQueryError{Problems: []string{err.Error()}}
		}
		order = []queryir.Order{o}
	}

	r := queryir.Range{First: q.First, Skip: q.Skip, After: q.After}
	if q.ID != "" {
		return queryir.RelationQuery{
			EntityType: q.Entity,
			ID:         q.ID,
			Field:      q.Field,
			Filter:     filter,
			OrderBy:    order,
			Range:      r,
			Block:      q.Block,
		}, nil
	}
	return queryir.EntityQuery{
		EntityType: q.Entity,
		Filter:     filter,
		OrderBy:    order,
		Range:      r,
		Block:      q.Block,
	}, nil
}
