package search

import (
	"encoding/json"
	"strconv"
	"strings"
)

// docindexTranslation maps legacy docindex export fields onto the
// kb_chunks schema. Unknown source fields are dropped.
var docindexTranslation = map[string]string{
	"zj_id":             "primary_id",
	"docid":             "knowledge_id",
	"attachId":          "file_id",
	"doctitle":          "title",
	"klg_type":          "knowledge_type",
	"item_value":        "content",
	"item_value_vector": "embedding",
	"item_value_img":    "content_image",
	"item_values":       "content_values",
	"itemvaluess":       "content_values_s",
	"klg_user_ids":      "knowledge_user_ids",
	"klg_role_ids":      "knowledge_role_ids",
	"group_id":          "chunk_id",
	"depar_id":          "department_id",
	"org_id":            "enterprise_id",
	"ep_id":             "tenant_id",
	"ct_id":             "knowledge_base_id",
	"ct_id0":            "kb_tree_id_0",
	"ct_id1":            "kb_tree_id_1",
	"ct_id2":            "kb_tree_id_2",
	"ct_id3":            "kb_tree_id_3",
	"parent_path_id":    "parent_path_id",
	"city_id":           "city_id",
	"up_city_id":        "parent_city_id",
	"doc_status":        "document_status",
	"life_status":       "lifecycle_status",
	"crt_userid":        "created_user_id",
	"tags":              "tags",
	"keywords":          "keywords",
	"summary":           "summary",
	"faq":               "faq",
	"rel_classify_id":   "external_classify_id",
	"rel_klg_id":        "external_knowledge_id",
	"rel_attach_id":     "external_attach_id",
	"attributes":        "attributes",
	"metaData":          "metadata",
	"role":              "visibility_scope",
	"deptPermission":    "permitted_department_ids",
	"userPermission":    "permitted_user_ids",
	"item_type":         "item_type",
}

// CoerceVector accepts the vector shapes legacy exports actually
// contain: a numeric list, a JSON-encoded string, or a delimited
// string with "," or ";" separators. Anything else yields nil.
func CoerceVector(value any) []float64 {
	switch v := value.(type) {
	case []float64:
		return v
	case []any:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			f, ok := toFloat(item)
			if !ok {
				return nil
			}
			out = append(out, f)
		}
		return out
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		var decoded []float64
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded
		}
		trimmed = strings.Trim(trimmed, "[]")
		trimmed = strings.ReplaceAll(trimmed, ";", ",")
		parts := strings.Split(trimmed, ",")
		out := make([]float64, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			f, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return nil
			}
			out = append(out, f)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
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
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// TranslateDocIndex renames a legacy docindex record into the kb_chunks
// schema. Nil values and unmapped fields are skipped; an empty result
// means the record carried nothing indexable.
func TranslateDocIndex(raw map[string]any) map[string]any {
	out := map[string]any{}
	for src, val := range raw {
		if val == nil {
			continue
		}
		target, ok := docindexTranslation[src]
		if !ok {
			continue
		}
		if target == "embedding" {
			if vec := CoerceVector(val); vec != nil {
				out[target] = vec
			}
			continue
		}
		out[target] = val
	}
	return out
}

// TranslateDocIndexBatch drops records that translate to nothing.
func TranslateDocIndexBatch(raw []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(raw))
	for _, record := range raw {
		doc := TranslateDocIndex(record)
		if len(doc) == 0 {
			continue
		}
		out = append(out, doc)
	}
	return out
}
