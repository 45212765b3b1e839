package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/mickamy/pgdiag/internal/model"
)

// Parse converts a PostgreSQL EXPLAIN (FORMAT JSON) document into an ExplainRootPlan.
func Parse(data []byte) (*model.ExplainRootPlan, error) {
	return ParseJSON(bytes.NewReader(data))
}

// ParseJSON reads a PostgreSQL EXPLAIN (FORMAT JSON) document and produces an ExplainRootPlan.
// It never returns a partial plan: any failure yields a *PlanParseError.
func ParseJSON(r io.Reader) (*model.ExplainRootPlan, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var payload any
	if err := decoder.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, parseErr("", ErrEmptyDocument, "empty document")
		}
		return nil, parseErr("", fmt.Errorf("%w: %w", ErrMalformed, err), "decode: %v", err)
	}

	entry, err := pickFirstEntry(payload)
	if err != nil {
		return nil, err
	}

	fields := indexKeys(entry)
	planKey, ok := fields["plan"]
	if !ok {
		return nil, parseErr("", ErrMissingPlan, "missing Plan root")
	}

	planMap, ok := entry[planKey].(map[string]any)
	if !ok {
		return nil, parseErr("", ErrNotObject, "invalid Plan node: expected object, got %T", entry[planKey])
	}

	root, err := parsePlanNode(planMap, "0")
	if err != nil {
		return nil, err
	}

	explain := &model.ExplainRootPlan{
		Root:  root,
		Extra: map[string]any{},
	}

	consumed := map[string]struct{}{planKey: {}}
	if key, ok := fields["planning time"]; ok {
		if f, ok := asFloat(entry[key]); ok {
			explain.PlanningTime = &f
			consumed[key] = struct{}{}
		}
	}
	if key, ok := fields["execution time"]; ok {
		if f, ok := asFloat(entry[key]); ok {
			explain.ExecutionTime = &f
			consumed[key] = struct{}{}
		}
	}
	if key, ok := fields["settings"]; ok {
		explain.Settings = parseSettings(entry[key])
		consumed[key] = struct{}{}
	}
	if key, ok := fields["command type"]; ok {
		if s, ok := entry[key].(string); ok {
			explain.CommandType = s
			consumed[key] = struct{}{}
		}
	}
	if explain.CommandType == "" {
		explain.CommandType = commandTypeOf(root)
	}

	for k, v := range entry {
		if _, ok := consumed[k]; ok {
			continue
		}
		explain.Extra[k] = v
	}

	return explain, nil
}

func pickFirstEntry(payload any) (map[string]any, error) {
	switch v := payload.(type) {
	case []any:
		if len(v) == 0 {
			return nil, parseErr("", ErrEmptyDocument, "empty payload")
		}
		obj, ok := v[0].(map[string]any)
		if !ok {
			return nil, parseErr("", ErrNotObject, "invalid entry: expected object, got %T", v[0])
		}
		return obj, nil
	case map[string]any:
		return v, nil
	default:
		return nil, parseErr("", ErrNotObject, "unexpected top-level type %T", payload)
	}
}

func commandTypeOf(root *model.PlanNode) string {
	if root.NodeType == "ModifyTable" {
		if op, ok := root.NodeSpecific.GetString("Operation"); ok {
			return op
		}
	}
	return "Select"
}

type stringField func(*model.PlanNode, string)

type floatField func(*model.PlanNode, *float64)

var stringFields = map[string]stringField{
	"node type":           func(n *model.PlanNode, v string) { n.NodeType = v },
	"relation name":       func(n *model.PlanNode, v string) { n.RelationName = v },
	"schema":              func(n *model.PlanNode, v string) { n.Schema = v },
	"alias":               func(n *model.PlanNode, v string) { n.Alias = v },
	"index name":          func(n *model.PlanNode, v string) { n.IndexName = v },
	"parent relationship": func(n *model.PlanNode, v string) { n.ParentRelationship = v },
}

var floatFields = map[string]floatField{
	"startup cost":        func(n *model.PlanNode, v *float64) { n.StartupCost = v },
	"total cost":          func(n *model.PlanNode, v *float64) { n.TotalCost = v },
	"plan rows":           func(n *model.PlanNode, v *float64) { n.PlanRows = v },
	"plan width":          func(n *model.PlanNode, v *float64) { n.PlanWidth = v },
	"actual startup time": func(n *model.PlanNode, v *float64) { n.ActualStartupTime = v },
	"actual total time":   func(n *model.PlanNode, v *float64) { n.ActualTotalTime = v },
	"actual rows":         func(n *model.PlanNode, v *float64) { n.ActualRows = v },
	"actual loops":        func(n *model.PlanNode, v *float64) { n.ActualLoops = v },
}

// Flat counters as emitted by EXPLAIN (BUFFERS). Nested "Buffers" objects use the same names
// without the " blocks" suffix.
var bufferCounters = map[string]func(*model.BufferStats, int64){
	"shared hit blocks":     func(b *model.BufferStats, v int64) { b.SharedHit = v },
	"shared read blocks":    func(b *model.BufferStats, v int64) { b.SharedRead = v },
	"shared dirtied blocks": func(b *model.BufferStats, v int64) { b.SharedDirtied = v },
	"shared written blocks": func(b *model.BufferStats, v int64) { b.SharedWritten = v },
	"local hit blocks":      func(b *model.BufferStats, v int64) { b.LocalHit = v },
	"local read blocks":     func(b *model.BufferStats, v int64) { b.LocalRead = v },
	"local dirtied blocks":  func(b *model.BufferStats, v int64) { b.LocalDirtied = v },
	"local written blocks":  func(b *model.BufferStats, v int64) { b.LocalWritten = v },
	"temp read blocks":      func(b *model.BufferStats, v int64) { b.TempRead = v },
	"temp written blocks":   func(b *model.BufferStats, v int64) { b.TempWritten = v },
}

var bufferTimings = map[string]func(*model.BufferStats, float64){
	"i/o read time":         func(b *model.BufferStats, v float64) { b.IOReadTimeMs = v },
	"i/o write time":        func(b *model.BufferStats, v float64) { b.IOWriteTimeMs = v },
	"shared i/o read time":  func(b *model.BufferStats, v float64) { b.IOReadTimeMs = v },
	"shared i/o write time": func(b *model.BufferStats, v float64) { b.IOWriteTimeMs = v },
}

// Child containers in the order their children are appended.
var childKeys = []string{"plans", "outer plan", "inner plan", "plan"}

func parsePlanNode(data map[string]any, path string) (*model.PlanNode, error) {
	node := &model.PlanNode{
		ID:           path,
		NodeSpecific: model.NodeSpecific{},
	}
	fields := indexKeys(data)
	consumed := map[string]struct{}{}

	for norm, set := range stringFields {
		key, ok := fields[norm]
		if !ok {
			continue
		}
		if s, ok := data[key].(string); ok {
			set(node, s)
			consumed[key] = struct{}{}
		}
	}
	if strings.TrimSpace(node.NodeType) == "" {
		return nil, parseErr(path, ErrMissingNodeType, "missing Node Type")
	}
	node.ShortType = model.ClassifyNodeType(node.NodeType)

	for norm, set := range floatFields {
		key, ok := fields[norm]
		if !ok {
			continue
		}
		if f, ok := asFloat(data[key]); ok {
			set(node, &f)
			consumed[key] = struct{}{}
		}
	}

	buffers, used := parseBuffers(data, fields)
	node.Buffers = buffers
	for _, key := range used {
		consumed[key] = struct{}{}
	}

	for _, norm := range childKeys {
		key, ok := fields[norm]
		if !ok {
			continue
		}
		children, err := parseChildren(data[key], path, len(node.Children))
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, children...)
		consumed[key] = struct{}{}
	}

	for k, v := range data {
		if _, ok := consumed[k]; ok {
			continue
		}
		node.NodeSpecific[k] = v
	}

	return node, nil
}

func parseChildren(val any, path string, offset int) ([]*model.PlanNode, error) {
	var items []any
	switch typed := val.(type) {
	case nil:
		return nil, nil
	case []any:
		items = typed
	case map[string]any:
		items = []any{typed}
	default:
		return nil, parseErr(path, ErrNotObject, "child plan: expected object or array, got %T", val)
	}

	out := make([]*model.PlanNode, 0, len(items))
	for i, item := range items {
		childPath := fmt.Sprintf("%s.%d", path, offset+i)
		childMap, ok := item.(map[string]any)
		if !ok {
			return nil, parseErr(childPath, ErrNotObject, "parse child plan: expected object, got %T", item)
		}
		child, err := parsePlanNode(childMap, childPath)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

func parseBuffers(data map[string]any, fields map[string]string) (*model.BufferStats, []string) {
	var (
		stats model.BufferStats
		used  []string
	)
	for norm, set := range bufferCounters {
		key, ok := fields[norm]
		if !ok {
			continue
		}
		if v, ok := asInt64(data[key]); ok {
			set(&stats, v)
			used = append(used, key)
		}
	}
	for norm, set := range bufferTimings {
		key, ok := fields[norm]
		if !ok {
			continue
		}
		if v, ok := asFloat(data[key]); ok {
			set(&stats, v)
			used = append(used, key)
		}
	}

	if key, ok := fields["buffers"]; ok {
		if nested, ok := data[key].(map[string]any); ok {
			nestedFields := indexKeys(nested)
			for norm, set := range bufferCounters {
				nkey, ok := nestedFields[norm]
				if !ok {
					nkey, ok = nestedFields[strings.TrimSuffix(norm, " blocks")]
				}
				if !ok {
					continue
				}
				if v, ok := asInt64(nested[nkey]); ok {
					set(&stats, v)
				}
			}
			used = append(used, key)
		}
	}

	if len(used) == 0 {
		return nil, nil
	}
	return &stats, used
}

func parseSettings(val any) map[string]string {
	if val == nil {
		return nil
	}

	result := map[string]string{}
	switch typed := val.(type) {
	case []any:
		for _, entry := range typed {
			item, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			fields := indexKeys(item)
			name := asString(item[fields["name"]])
			value := asString(item[fields["setting"]])
			if value == "" {
				value = asString(item[fields["value"]])
			}
			if name != "" && value != "" {
				result[name] = value
			}
		}
	case map[string]any:
		for k, v := range typed {
			result[k] = asString(v)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// indexKeys maps normalized attribute names to the key as it appears in data.
func indexKeys(data map[string]any) map[string]string {
	out := make(map[string]string, len(data))
	for k := range data {
		norm := model.NormalizeKey(k)
		if existing, ok := out[norm]; ok && existing < k {
			continue
		}
		out[norm] = k
	}
	return out
}

func asString(val any) string {
	if val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func asFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		if v == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asInt64(val any) (int64, bool) {
	switch v := val.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(math.Round(v)), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return int64(math.Round(f)), true
	case string:
		f, ok := asFloat(v)
		if !ok {
			return 0, false
		}
		return int64(math.Round(f)), true
	default:
		return 0, false
	}
}
