package document

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fyerfyer/deal-ai/internal/models"
	"github.com/sirupsen/logrus"
)

type sheetType int

const (
	sheetPlain sheetType = iota
	sheetCashflow
	sheetDebt
)

// sheetKind 根据工作表名称判断是否包含财务数据
func sheetKind(sheet string) sheetType {
	name := strings.ToLower(sheet)
	switch {
	case strings.Contains(name, "cashflow"), strings.Contains(name, "cash flow"):
		return sheetCashflow
	case strings.Contains(name, "debt"):
		return sheetDebt
	default:
		return sheetPlain
	}
}

// 列名别名，比较时忽略大小写
var (
	periodColumns   = []string{"period", "date", "year", "quarter"}
	ebitdaColumns   = []string{"ebitda"}
	revenueColumns  = []string{"revenue", "sales"}
	opexColumns     = []string{"opex", "operating expenses"}
	debtNameColumns = []string{"name", "instrument", "facility", "tranche"}
	amountColumns   = []string{"amount", "principal", "balance"}
	rateColumns     = []string{"interest_rate", "interest rate", "rate", "coupon"}
)

// extractCashflow 从现金流工作表中提取条目，不合法的行被跳过
func (p *SpreadsheetParser) extractCashflow(file string, table models.Table) []models.CashflowEntry {
	entries := []models.CashflowEntry{}
	for i, row := range table.Rows {
		var entry models.CashflowEntry
		var err error

		entry.Period = lookup(row, periodColumns)
		if entry.EBITDA, err = parseAmount(lookup(row, ebitdaColumns)); err == nil {
			if entry.Revenue, err = parseAmount(lookup(row, revenueColumns)); err == nil {
				entry.Opex, err = parseAmount(lookup(row, opexColumns))
			}
		}
		if err == nil {
			err = p.validate.Struct(entry)
		}
		if err != nil {
			p.skipRow(file, table.Sheet, i, err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// extractDebt 从债务工作表中提取债务工具
func (p *SpreadsheetParser) extractDebt(file string, table models.Table) []models.DebtInstrument {
	instruments := []models.DebtInstrument{}
	for i, row := range table.Rows {
		var inst models.DebtInstrument
		var err error

		inst.Name = lookup(row, debtNameColumns)
		if inst.Amount, err = parseAmount(lookup(row, amountColumns)); err == nil {
			inst.InterestRate, err = parseAmount(lookup(row, rateColumns))
		}
		if err == nil {
			err = p.validate.Struct(inst)
		}
		if err != nil {
			p.skipRow(file, table.Sheet, i, err)
			continue
		}
		instruments = append(instruments, inst)
	}
	return instruments
}

func (p *SpreadsheetParser) skipRow(file, sheet string, row int, err error) {
	p.logger.WithFields(logrus.Fields{
		"file":  file,
		"sheet": sheet,
		"row":   row + 2, // 加上表头，从1开始计数
	}).WithError(err).Warn("Skipping invalid financial row")
}

// lookup 按别名顺序查找列值
// 多个列名仅大小写不同时取排序后的第一个，结果与map遍历顺序无关
func lookup(row map[string]string, aliases []string) string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	for _, alias := range aliases {
		for _, col := range cols {
			if strings.EqualFold(strings.TrimSpace(col), alias) {
				return row[col]
			}
		}
	}
	return ""
}

// parseAmount 解析金额或比率
// 支持千分位、货币符号、括号表示负数和百分号，空值为0
func parseAmount(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}

	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	s = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", " ", "").Replace(s)

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", raw)
	}
	if percent {
		v /= 100
	}
	if negative {
		v = -v
	}
	return v, nil
}
