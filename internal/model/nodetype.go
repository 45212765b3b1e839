package model

import "strings"

// ShortNodeType is a compact classification of a plan operator.
type ShortNodeType string

const (
	SeqScan         ShortNodeType = "SeqScan"
	IndexOnlyScan   ShortNodeType = "IndexOnlyScan"
	IndexScan       ShortNodeType = "IndexScan"
	BitmapHeapScan  ShortNodeType = "BitmapHeapScan"
	BitmapIndexScan ShortNodeType = "BitmapIndexScan"
	HashJoin        ShortNodeType = "HashJoin"
	MergeJoin       ShortNodeType = "MergeJoin"
	NestedLoop      ShortNodeType = "NestedLoop"
	Sort            ShortNodeType = "Sort"
	Aggregate       ShortNodeType = "Aggregate"
	Hash            ShortNodeType = "Hash"
	Gather          ShortNodeType = "Gather"
	Materialize     ShortNodeType = "Materialize"
	Limit           ShortNodeType = "Limit"
)

// First match wins: "Bitmap Index Scan" must stay ahead of "Index Scan", "Hash Join" ahead of
// "Hash" and "Aggregate" ahead of "Hash" (HashAggregate).
var nodeTypeClasses = []struct {
	needle string
	short  ShortNodeType
}{
	{"Seq Scan", SeqScan},
	{"Bitmap Heap Scan", BitmapHeapScan},
	{"Bitmap Index Scan", BitmapIndexScan},
	{"Index Only Scan", IndexOnlyScan},
	{"Index Scan", IndexScan},
	{"Hash Join", HashJoin},
	{"Merge Join", MergeJoin},
	{"Nested Loop", NestedLoop},
	{"Sort", Sort},
	{"Aggregate", Aggregate},
	{"Hash", Hash},
	{"Gather", Gather},
	{"Materialize", Materialize},
	{"Limit", Limit},
}

// ClassifyNodeType maps a raw node type to its short form. Unrecognized types pass through unchanged.
func ClassifyNodeType(nodeType string) ShortNodeType {
	for _, class := range nodeTypeClasses {
		if strings.Contains(nodeType, class.needle) {
			return class.short
		}
	}
	return ShortNodeType(nodeType)
}
