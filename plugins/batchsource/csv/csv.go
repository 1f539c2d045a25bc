package csv

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"tend/pkg/contract"
)

// Options 为批量输入解析器的可选配置（最小必要）。
type Options struct {
	// Delimiter: 字段分隔符（单字符）。默认 ","。
	Delimiter string `json:"delimiter,omitempty"`
	// ReservedPrefix: 系统保留分组前缀，命中的分组被丢弃。
	// 为 nil 时采用默认 "_"；显式空串表示不过滤。
	ReservedPrefix *string `json:"reserved_prefix,omitempty"`
}

// Parser 实现 contract.BatchSource。
type Parser struct {
	delim    rune
	reserved string
}

// New 创建解析器。
func New(opts *Options) (*Parser, error) {
	p := &Parser{delim: ',', reserved: "_"}
	if opts == nil {
		return p, nil
	}
	if opts.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(opts.Delimiter)
		if size != len(opts.Delimiter) || r == '"' || r == '\n' || r == '\r' {
			return nil, fmt.Errorf("batchsource: invalid delimiter %q", opts.Delimiter)
		}
		p.delim = r
	}
	if opts.ReservedPrefix != nil {
		p.reserved = *opts.ReservedPrefix
	}
	return p, nil
}

var _ contract.BatchSource = (*Parser)(nil)

// 逻辑列
const (
	colSequence = "sequence"
	colFirst    = "first_name"
	colLast     = "last_name"
	colID       = "id"
	colGroups   = "groups"
)

// 规范化表头 → 逻辑列（两种方言共用；sequence 为 tracker 方言签名列）。
var headerAliases = map[string]string{
	"sequence":   colSequence,
	"seq":        colSequence,
	"first_name": colFirst,
	"firstname":  colFirst,
	"last_name":  colLast,
	"lastname":   colLast,
	"clay_id":    colID,
	"id":         colID,
	"contact_id": colID,
	"groups":     colGroups,
	"group":      colGroups,
}

// Parse 解析完整输入。单行问题进入 Dropped；表头问题与空输入为致命错误。
func (p *Parser) Parse(ctx context.Context, r io.Reader) (contract.ParseResult, error) {
	br := bufio.NewReader(r)
	var res contract.ParseResult

	// 表头：首个非空行
	var header []string
	lineNo := 0
	for header == nil {
		if err := ctxErr(ctx); err != nil {
			return res, err
		}
		line, eof, err := readTrimmedLine(br)
		if err != nil {
			return res, err
		}
		if eof {
			return res, fmt.Errorf("batchsource: no header: %w", contract.ErrEmptyInput)
		}
		lineNo++
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		header = SplitLine(line, p.delim)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		if logical, ok := headerAliases[normalizeHeader(h)]; ok {
			if _, dup := cols[logical]; !dup {
				cols[logical] = i
			}
		}
	}
	if _, ok := cols[colID]; !ok {
		return res, fmt.Errorf("batchsource: header %q has no contact id column: %w", strings.Join(header, string(p.delim)), contract.ErrMissingColumn)
	}
	res.Dialect = contract.DialectExport
	if _, ok := cols[colSequence]; ok {
		res.Dialect = contract.DialectTracker
	}

	position := 0
	for {
		if err := ctxErr(ctx); err != nil {
			return res, err
		}
		line, eof, err := readTrimmedLine(br)
		if err != nil {
			return res, err
		}
		if eof {
			break
		}
		lineNo++
		if strings.TrimSpace(line) == "" {
			continue
		}
		position++
		fields := SplitLine(line, p.delim)

		var seq contract.Sequence
		if res.Dialect == contract.DialectTracker {
			n, err := strconv.ParseInt(field(fields, cols, colSequence), 10, 64)
			if err != nil || n <= 0 {
				res.Dropped = append(res.Dropped, contract.RowIssue{Line: lineNo, Reason: "invalid sequence"})
				continue
			}
			seq = contract.Sequence(n)
		} else {
			seq = contract.Sequence(position)
		}

		rawID := field(fields, cols, colID)
		if rawID == "" {
			res.Dropped = append(res.Dropped, contract.RowIssue{Line: lineNo, Sequence: seq, Reason: "missing contact id"})
			continue
		}
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || id <= 0 {
			res.Dropped = append(res.Dropped, contract.RowIssue{Line: lineNo, Sequence: seq, Reason: fmt.Sprintf("invalid contact id %q", rawID)})
			continue
		}

		res.Rows = append(res.Rows, contract.Row{
			Sequence:   seq,
			FirstName:  field(fields, cols, colFirst),
			LastName:   field(fields, cols, colLast),
			ExternalID: id,
			Groups:     p.splitGroups(field(fields, cols, colGroups)),
			Line:       lineNo,
		})
	}
	if position == 0 {
		return res, fmt.Errorf("batchsource: header without data rows: %w", contract.ErrEmptyInput)
	}
	return res, nil
}

// SplitLine 按引号感知规则切分单行：
// 引号内的分隔符不切分；引号内连续两个引号表示字面引号；字段两端空白被去除。
func SplitLine(line string, delim rune) []string {
	var (
		fields []string
		cur    strings.Builder
		quoted bool
	)
	rs := []rune(line)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch {
		case c == '"':
			if quoted && i+1 < len(rs) && rs[i+1] == '"' {
				cur.WriteRune('"')
				i++
				continue
			}
			quoted = !quoted
		case c == delim && !quoted:
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(c)
		}
	}
	fields = append(fields, strings.TrimSpace(cur.String()))
	return fields
}

// splitGroups 拆分分组列表（"," 或 ";"），去空、去保留前缀、保序去重。
func (p *Parser) splitGroups(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, g := range parts {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if p.reserved != "" && strings.HasPrefix(g, p.reserved) {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeHeader: "First Name" / "first-name" / " FIRST_NAME " → "first_name"。
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.Join(strings.FieldsFunc(h, func(r rune) bool { return r == ' ' || r == '-' || r == '_' }), "_")
	return h
}

func field(fields []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(fields) {
		return ""
	}
	return fields[i]
}

// readTrimmedLine 读取一行，归一 CRLF→LF，并去除结尾换行符；返回该行、是否 EOF。
func readTrimmedLine(br *bufio.Reader) (line string, eof bool, err error) {
	s, err := br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			eof = true
		} else {
			return "", false, err
		}
	}
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s, eof && s == "", nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
