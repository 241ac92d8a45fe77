// Package finance holds the financial vocabulary used to read questions and
// documents: known companies, indicators and their aliases, and helpers to
// pull years, quarters and numbers out of Chinese report text.
package finance

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// CoreCompanies are matched before the wider bank list.
var CoreCompanies = []string{"贵州茅台", "招商银行", "工商银行", "建设银行", "中国银行"}

// AShareBanks are the listed banks covered by collection and comparison.
var AShareBanks = []string{
	"工商银行", "建设银行", "农业银行", "中国银行", "交通银行",
	"招商银行", "浦发银行", "兴业银行", "民生银行", "光大银行",
	"华夏银行", "平安银行", "中信银行", "北京银行", "上海银行",
	"江苏银行", "宁波银行", "南京银行", "杭州银行", "成都银行",
	"长沙银行", "西安银行", "贵阳银行", "郑州银行", "青岛银行",
	"苏州银行", "厦门银行", "重庆银行", "齐鲁银行", "兰州银行",
	"瑞丰银行", "常熟银行", "张家港行", "江阴银行", "无锡银行",
	"苏农银行", "紫金银行", "青农商行", "渝农商行", "沪农商行",
	"邮储银行", "浙商银行",
}

// CompanyAliases maps short names to the canonical company name.
var CompanyAliases = map[string]string{
	"茅台": "贵州茅台",
	"招行": "招商银行",
	"工行": "工商银行",
	"建行": "建设银行",
	"农行": "农业银行",
	"交行": "交通银行",
}

// CoreIndicators are the indicators questions are usually about.
var CoreIndicators = []string{"营收", "净利润", "不良率", "ROE", "拨备覆盖率", "净息差"}

// IndicatorMapping maps report line items to canonical indicator names.
var IndicatorMapping = map[string]string{
	"营业收入":          "营收",
	"营业收入合计":        "营收",
	"净利润":           "净利润",
	"归属于母公司所有者的净利润": "净利润",
	"总资产":           "总资产",
	"总负债":           "总负债",
	"不良贷款率":         "不良率",
	"拨备覆盖率":         "拨备覆盖率",
	"资本充足率":         "资本充足率",
	"核心一级资本充足率":     "核心一级资本充足率",
	"净资产收益率":        "ROE",
	"资产收益率":         "ROA",
	"净利息收益率":        "净息差",
}

// MacroIndicators are the macro series used as trend context.
var MacroIndicators = []string{"GDP", "利率", "通胀率", "M2", "社会融资规模"}

var (
	yearPattern    = regexp.MustCompile(`20\d{2}`)
	quarterPattern = regexp.MustCompile(`(?i)Q([1-4])|第?([一二三四1-4])季度`)
)

// Vocabulary matches companies and indicators in free text.
type Vocabulary struct {
	companies []string
	aliases   map[string]string

	indicators []string
	mapping    map[string]string
}

// NewVocabulary builds the default vocabulary extended with extra companies,
// extra indicators and extra alias mappings.
func NewVocabulary(extraCompanies, extraIndicators []string, extraMapping map[string]string) *Vocabulary {
	v := &Vocabulary{
		aliases: make(map[string]string, len(CompanyAliases)),
		mapping: make(map[string]string, len(IndicatorMapping)+len(extraMapping)),
	}

	seen := map[string]bool{}
	for _, list := range [][]string{CoreCompanies, AShareBanks, extraCompanies} {
		for _, c := range list {
			if c != "" && !seen[c] {
				seen[c] = true
				v.companies = append(v.companies, c)
			}
		}
	}
	for k, c := range CompanyAliases {
		v.aliases[k] = c
	}

	seen = map[string]bool{}
	for _, list := range [][]string{CoreIndicators, extraIndicators} {
		for _, i := range list {
			if i != "" && !seen[i] {
				seen[i] = true
				v.indicators = append(v.indicators, i)
			}
		}
	}
	for k, i := range IndicatorMapping {
		v.mapping[k] = i
	}
	for k, i := range extraMapping {
		v.mapping[k] = i
	}
	return v
}

// Default is the vocabulary with no extensions.
func Default() *Vocabulary {
	return NewVocabulary(nil, nil, nil)
}

// Companies returns every known canonical company name.
func (v *Vocabulary) Companies() []string {
	return append([]string(nil), v.companies...)
}

// IsCompany reports whether name is a known canonical company.
func (v *Vocabulary) IsCompany(name string) bool {
	for _, c := range v.companies {
		if c == name {
			return true
		}
	}
	return false
}

type match struct {
	pos       int
	length    int
	canonical string
}

// scan finds every term of terms in text and returns canonical names ordered
// by first appearance. At the same position the longer term wins.
func scan(text string, terms map[string]string) []string {
	var found []match
	for term, canonical := range terms {
		if pos := strings.Index(text, term); pos >= 0 {
			found = append(found, match{pos: pos, length: len(term), canonical: canonical})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].pos != found[j].pos {
			return found[i].pos < found[j].pos
		}
		return found[i].length > found[j].length
	})

	var out []string
	seen := map[string]bool{}
	for _, m := range found {
		if !seen[m.canonical] {
			seen[m.canonical] = true
			out = append(out, m.canonical)
		}
	}
	return out
}

func (v *Vocabulary) companyTerms() map[string]string {
	terms := make(map[string]string, len(v.companies)+len(v.aliases))
	for alias, c := range v.aliases {
		terms[alias] = c
	}
	for _, c := range v.companies {
		terms[c] = c
	}
	return terms
}

func (v *Vocabulary) indicatorTerms() map[string]string {
	terms := make(map[string]string, len(v.indicators)+len(v.mapping))
	for alias, i := range v.mapping {
		terms[alias] = i
	}
	for _, i := range v.indicators {
		terms[i] = i
	}
	return terms
}

// ExtractCompanies returns every company mentioned, in order of appearance.
func (v *Vocabulary) ExtractCompanies(text string) []string {
	return scan(text, v.companyTerms())
}

// ExtractCompany returns the first company mentioned, or "".
func (v *Vocabulary) ExtractCompany(text string) string {
	if cs := v.ExtractCompanies(text); len(cs) > 0 {
		return cs[0]
	}
	return ""
}

// ExtractIndicators returns canonical indicators in order of appearance.
// ASCII names such as ROE match case-insensitively.
func (v *Vocabulary) ExtractIndicators(text string) []string {
	return scan(strings.ToUpper(text), upperKeys(v.indicatorTerms()))
}

// ExtractIndicator returns the first indicator mentioned, or "".
func (v *Vocabulary) ExtractIndicator(text string) string {
	if is := v.ExtractIndicators(text); len(is) > 0 {
		return is[0]
	}
	return ""
}

// Canonical maps an indicator alias to its canonical name.
func (v *Vocabulary) Canonical(indicator string) string {
	indicator = strings.TrimSpace(indicator)
	if c, ok := v.mapping[indicator]; ok {
		return c
	}
	for _, i := range v.indicators {
		if strings.EqualFold(i, indicator) {
			return i
		}
	}
	return indicator
}

// CanonicalCompany maps a company alias to its canonical name.
func (v *Vocabulary) CanonicalCompany(company string) string {
	if c, ok := v.aliases[strings.TrimSpace(company)]; ok {
		return c
	}
	return strings.TrimSpace(company)
}

func upperKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[strings.ToUpper(k)] = val
	}
	return out
}

// ExtractYear returns the first 20xx year in text, or 0.
func ExtractYear(text string) int {
	m := yearPattern.FindString(text)
	if m == "" {
		return 0
	}
	y, _ := strconv.Atoi(m)
	return y
}

// ExtractYears returns every distinct 20xx year in order of appearance.
func ExtractYears(text string) []int {
	var out []int
	seen := map[int]bool{}
	for _, m := range yearPattern.FindAllString(text, -1) {
		y, _ := strconv.Atoi(m)
		if !seen[y] {
			seen[y] = true
			out = append(out, y)
		}
	}
	return out
}

var chineseQuarter = map[string]string{"一": "1", "二": "2", "三": "3", "四": "4"}

// ExtractQuarter returns Q1..Q4 when text names a quarter, or "".
func ExtractQuarter(text string) string {
	m := quarterPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	q := m[1]
	if q == "" {
		q = m[2]
		if n, ok := chineseQuarter[q]; ok {
			q = n
		}
	}
	return "Q" + q
}
