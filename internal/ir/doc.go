// Package ir provides the value, schema and manifest types shared by every
// other package of the entity store.
//
// ir imports nothing internal. The layout compiler, the query translator and
// the store all speak in terms of these types, so keeping them in a leaf
// package avoids import cycles.
//
// Key design constraints:
//   - Entity field values are a closed, sealed set (see Value)
//   - Arbitrary-precision numbers never pass through float64
//   - Deployment ids are content-addressed over canonical JSON
//   - All JSON tags use snake_case
package ir
