// code.go : GNSS code generation functions
package gnss

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	ErrUnknownPRN  = errors.New("gnss: prn out of range")
	ErrMissingCode = errors.New("gnss: code table not loaded")
	ErrCodeLength  = errors.New("gnss: code length mismatch")
)

// Flip array direction (int16)
func FlipArray(in []int16) []int16 {
	out := make([]int16, len(in))
	for i := range in {
		out[len(in)-i-1] = in[i]
	}
	return out
}

// Hexadecimal to decimal
func HexC2Dec(hex byte) int {
	if hex >= '0' && hex <= '9' {
		return int(hex - '0')
	}
	if hex >= 'A' && hex <= 'F' {
		return int(hex - 'A' + 10)
	}
	if hex >= 'a' && hex <= 'f' {
		return int(hex - 'a' + 10)
	}
	return 0
}

// Hexadecimal to binary chips (+1 for 0, -1 for 1). When skiplast is false
// the extra leading bits of the first digit are dropped, otherwise the
// trailing bits of the last digit.
func Hex2Bin(hex []byte, nbit int, skiplast, flip bool) []int16 {
	hexlist := [16][4]int16{
		{1, 1, 1, 1}, {1, 1, 1, -1}, {1, 1, -1, 1}, {1, 1, -1, -1},
		{1, -1, 1, 1}, {1, -1, 1, -1}, {1, -1, -1, 1}, {1, -1, -1, -1},
		{-1, 1, 1, 1}, {-1, 1, 1, -1}, {-1, 1, -1, 1}, {-1, 1, -1, -1},
		{-1, -1, 1, 1}, {-1, -1, 1, -1}, {-1, -1, -1, 1}, {-1, -1, -1, -1},
	}
	n := len(hex)
	bin := make([]int16, nbit)
	skip := 4*n - nbit
	j := 0
	for i := 0; i < n && j < nbit; i++ {
		for k := 0; k < 4 && j < nbit; k++ {
			if !skiplast && i == 0 && k < skip {
				continue
			}
			if skiplast && i == n-1 && k >= 4-skip {
				continue
			}
			bin[j] = hexlist[HexC2Dec(hex[i])][k]
			j++
		}
	}
	if flip {
		bin = FlipArray(bin)
	}
	return bin
}

// C/A code generator (IS-GPS-200)
func GencodeL1CA(prn int) ([]int16, error) {
	delay := []int{
		5, 6, 7, 8, 17, 18, 139, 140, 141, 251,
		252, 254, 255, 256, 257, 258, 469, 470, 471, 472,
		473, 474, 509, 512, 513, 514, 515, 516, 859, 860,
		861, 862, 863, 950, 947, 948, 950, 67, 103, 91,
		19, 679, 225, 625, 946, 638, 161, 1001, 554, 280,
		710, 709, 775, 864, 558, 220, 397, 55, 898, 759,
		367, 299, 1018, 729, 695, 780, 801, 788, 732, 34,
		320, 327, 389, 407, 525, 405, 221, 761, 260, 326,
		955, 653, 699, 422, 188, 438, 959, 539, 879, 677,
		586, 153, 792, 814, 446, 264, 1015, 278, 536, 819,
		156, 957, 159, 712, 885, 461, 248, 713, 126, 807,
		279, 122, 197, 693, 632, 771, 467, 647, 203, 145,
		175, 52, 21, 237, 235, 886, 657, 634, 762, 355,
		1012, 176, 603, 130, 359, 595, 68, 386, 797, 456,
		499, 883, 307, 127, 211, 121, 118, 163, 628, 853,
		484, 289, 811, 202, 1021, 463, 568, 904, 670, 230,
		911, 684, 309, 644, 932, 12, 314, 891, 212, 185,
		675, 503, 150, 395, 345, 846, 798, 992, 357, 995,
		877, 112, 144, 476, 193, 109, 445, 291, 87, 399,
		292, 901, 339, 208, 711, 189, 263, 537, 663, 942,
		173, 900, 30, 500, 935, 556, 373, 85, 652, 310,
	}
	if prn < 1 || prn > len(delay) {
		return nil, fmt.Errorf("l1ca prn %d: %w", prn, ErrUnknownPRN)
	}
	var R1, R2 [10]int8
	for i := 0; i < 10; i++ {
		R1[i] = -1
		R2[i] = -1
	}
	G1 := make([]int8, LenL1CA)
	G2 := make([]int8, LenL1CA)
	for i := 0; i < LenL1CA; i++ {
		G1[i] = R1[9]
		G2[i] = R2[9]
		C1 := R1[2] * R1[9]
		C2 := R2[1] * R2[2] * R2[5] * R2[7] * R2[8] * R2[9]
		for j := 9; j > 0; j-- {
			R1[j] = R1[j-1]
			R2[j] = R2[j-1]
		}
		R1[0] = C1
		R2[0] = C2
	}
	code := make([]int16, LenL1CA)
	j := LenL1CA - delay[prn-1]
	for i := 0; i < LenL1CA; i++ {
		code[i] = int16(-G1[i] * G2[j%LenL1CA])
		j++
	}
	return code, nil
}

// CodeBook holds memory codes read from hex tables, keyed by table name
// (E1B, E1C, L5I, ...) and PRN.
type CodeBook struct {
	tables map[string]map[int]string
}

func NewCodeBook() *CodeBook {
	return &CodeBook{tables: make(map[string]map[int]string)}
}

// Add a hex code for one PRN
func (b *CodeBook) Add(table string, prn int, hex string) {
	t, ok := b.tables[table]
	if !ok {
		t = make(map[int]string)
		b.tables[table] = t
	}
	t[prn] = hex
}

// Has reports whether a code exists in the book
func (b *CodeBook) Has(table string, prn int) bool {
	if b == nil {
		return false
	}
	_, ok := b.tables[table][prn]
	return ok
}

// ReadCodeBook parses lines of "<table> <prn> <hex>". Blank lines and
// lines starting with # are skipped.
func ReadCodeBook(r io.Reader) (*CodeBook, error) {
	b := NewCodeBook()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		f := strings.Fields(s)
		if len(f) != 3 {
			return nil, fmt.Errorf("code table line %d: expected 3 fields, got %d", line, len(f))
		}
		prn, err := strconv.Atoi(f[1])
		if err != nil {
			return nil, fmt.Errorf("code table line %d: %w", line, err)
		}
		b.Add(f[0], prn, f[2])
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadCodeBook reads a code table file
func LoadCodeBook(path string) (*CodeBook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open code table: %w", err)
	}
	defer f.Close()
	return ReadCodeBook(f)
}

// Generate returns the primary code chips (+1/-1) of a table for one PRN
func (b *CodeBook) Generate(table string, prn, length int) ([]int16, error) {
	if table == TableL1CA {
		return GencodeL1CA(prn)
	}
	if b == nil {
		return nil, fmt.Errorf("%s prn %d: %w", table, prn, ErrMissingCode)
	}
	t, ok := b.tables[table]
	if !ok {
		return nil, fmt.Errorf("%s: %w", table, ErrMissingCode)
	}
	hex, ok := t[prn]
	if !ok {
		return nil, fmt.Errorf("%s prn %d: %w", table, prn, ErrUnknownPRN)
	}
	if 4*len(hex) < length || 4*len(hex)-length >= 4 {
		return nil, fmt.Errorf("%s prn %d: %d hex digits for %d chips: %w", table, prn, len(hex), length, ErrCodeLength)
	}
	return Hex2Bin([]byte(hex), length, true, false), nil
}

// Code table names
const (
	TableL1CA = "L1CA"
	TableL2CM = "L2CM"
	TableL5I  = "L5I"
	TableL5Q  = "L5Q"
	TableE1B  = "E1B"
	TableE1C  = "E1C"
	TableE5aI = "E5aI"
	TableE5aQ = "E5aQ"

	TableE5aQS = "E5aQS" // per PRN E5a-Q secondary codes
)

// ModulateBOC expands chips with a sinBOC sub-carrier of spc half periods
// per chip (spc=1 leaves BPSK chips unchanged).
func ModulateBOC(chips []int16, spc int) []float32 {
	if spc < 1 {
		spc = 1
	}
	out := make([]float32, len(chips)*spc)
	for i, c := range chips {
		for k := 0; k < spc; k++ {
			v := float32(c)
			if spc > 1 && k%2 == 1 {
				v = -v
			}
			out[i*spc+k] = v
		}
	}
	return out
}

// Secondary codes -----------------------------------------------------------
const (
	SecondaryE1C  = "0011100000001010110110010"
	SecondaryE5aI = "10000100001011101001"
	SecondaryNH10 = "0000110101"
	SecondaryNH20 = "00000100110101001110"
	PreambleL1CA  = "10001011"
)

// ChipSign maps a secondary code character to its BPSK value
func ChipSign(c byte) float64 {
	if c == '1' {
		return -1
	}
	return 1
}

// ExpandSymbols repeats each symbol of a sequence n times. The GPS L1 bit
// synchronization pattern is the preamble expanded by symbols per bit.
func ExpandSymbols(seq string, n int) string {
	if n <= 1 {
		return seq
	}
	var sb strings.Builder
	sb.Grow(len(seq) * n)
	for i := 0; i < len(seq); i++ {
		for k := 0; k < n; k++ {
			sb.WriteByte(seq[i])
		}
	}
	return sb.String()
}
