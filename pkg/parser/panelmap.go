package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shouni/go-comic-kit/pkg/domain"
	"gopkg.in/yaml.v3"
)

// ParsePanelMap はパネル番号 → ファイル名 (単一またはリスト) の対応表を JSON か YAML から読み込みます。
func ParsePanelMap(data []byte) (domain.PanelMap, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return domain.PanelMap{}, nil
	}

	m := domain.PanelMap{}
	var err error
	if trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &m)
	} else {
		err = yaml.Unmarshal(trimmed, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: パネル対応表のパースに失敗しました: %v", domain.ErrMalformedInput, err)
	}
	return m, nil
}

// ExtractPanelMap は生成ツールの出力テキストから "Panel N: ..." 行を拾ってパネル対応表を作ります。
// FAILED や ERROR を含む行は無視します。同じパネルが複数回現れた場合は候補のリストになります。
func ExtractPanelMap(text string) domain.PanelMap {
	found := make(map[int][]string)
	var order []int

	for _, m := range ReportLineRegex.FindAllStringSubmatch(text, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		body := strings.TrimSpace(m[2])
		upper := strings.ToUpper(body)
		if strings.Contains(upper, domain.FailedMarker) || strings.Contains(upper, "ERROR") {
			continue
		}

		var name string
		if fm := GeneratedFileRegex.FindStringSubmatch(body); fm != nil {
			name = fm[1]
		} else if fm := FilenameLabelRegex.FindStringSubmatch(body); fm != nil {
			name = fm[1]
		}
		if name == "" {
			continue
		}
		if _, ok := found[id]; !ok {
			order = append(order, id)
		}
		found[id] = append(found[id], name)
	}

	out := make(domain.PanelMap, len(order))
	for _, id := range order {
		names := found[id]
		if len(names) == 1 {
			out[domain.PanelKey(id)] = domain.One(names[0])
		} else {
			out[domain.PanelKey(id)] = domain.Many(names...)
		}
	}
	return out
}
