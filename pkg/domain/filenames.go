package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FailedMarker はアップストリームが生成失敗を示すために埋め込む文字列です。
const FailedMarker = "FAILED"

// OneOrMany は単一ファイル名またはファイル名候補のリストを表すタグ付きの値です。
type OneOrMany struct {
	values []string
	many   bool
}

// One は単一候補を作ります。
func One(filename string) OneOrMany {
	return OneOrMany{values: []string{filename}}
}

// Many は複数候補を作ります。
func Many(filenames ...string) OneOrMany {
	return OneOrMany{values: append([]string(nil), filenames...), many: true}
}

// IsMany はリスト形式で与えられたかを返します。
func (o OneOrMany) IsMany() bool {
	return o.many
}

// Candidates は候補を与えられた順に返します。
func (o OneOrMany) Candidates() []string {
	return append([]string(nil), o.values...)
}

// IsEmpty は候補がひとつもないかを返します。
func (o OneOrMany) IsEmpty() bool {
	for _, v := range o.values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// HasFailedMarker はいずれかの候補に "FAILED" が含まれるかを返します。
func (o OneOrMany) HasFailedMarker() bool {
	for _, v := range o.values {
		if strings.Contains(v, FailedMarker) {
			return true
		}
	}
	return false
}

func (o OneOrMany) MarshalJSON() ([]byte, error) {
	if o.many {
		return json.Marshal(o.values)
	}
	if len(o.values) == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(o.values[0])
}

func (o *OneOrMany) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*o = One(single)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("%w: panel map value must be a string or a list of strings: %s", ErrMalformedInput, string(data))
	}
	*o = Many(list...)
	return nil
}

func (o *OneOrMany) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*o = One(node.Value)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		*o = Many(list...)
		return nil
	default:
		return fmt.Errorf("%w: panel map value must be a string or a list of strings (line %d)", ErrMalformedInput, node.Line)
	}
}

// PanelMap はアップストリームが主張するパネル番号 (文字列) → ファイル名候補の対応です。
type PanelMap map[string]OneOrMany
