package field

import (
	"bufio"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ParamsFileName is the name of the setup file shared by all parties.
const ParamsFileName = "Params-Data"

// Defaults used to derive the setup directory from the party count.
const (
	DefaultPrimeBits  = 128
	DefaultGF2NDegree = 128
)

// presets maps well-known modulus names to their values.
var presets = map[string]func() *big.Int{
	"secp256k1": func() *big.Int { return new(big.Int).Set(btcec.S256().Params().N) },
}

// ParseModulus parses a decimal modulus or resolves a named preset such as
// "secp256k1" (the secp256k1 group order).
func ParseModulus(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if preset, ok := presets[strings.ToLower(s)]; ok {
		return preset(), nil
	}
	m, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: cannot parse %q", ErrInvalidModulus, s)
	}
	return m, nil
}

// SetupDir returns the directory holding the setup for nparties parties,
// laid out as <root>/<nparties>-<primeBits>-<gf2nDegree>.
func SetupDir(root string, nparties, primeBits, gf2nDegree int) string {
	return filepath.Join(root, fmt.Sprintf("%d-%d-%d", nparties, primeBits, gf2nDegree))
}

// SetupPath returns the path of the Params-Data file inside SetupDir.
func SetupPath(root string, nparties, primeBits, gf2nDegree int) string {
	return filepath.Join(SetupDir(root, nparties, primeBits, gf2nDegree), ParamsFileName)
}

// ReadSetup parses a setup stream: the decimal prime followed by the GF(2^n)
// degree, separated by whitespace.
func ReadSetup(r io.Reader) (*big.Int, int, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	var tokens []string
	for sc.Scan() && len(tokens) < 2 {
		tokens = append(tokens, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("field: read setup: %w", err)
	}
	if len(tokens) < 2 {
		return nil, 0, fmt.Errorf("field: read setup: want modulus and degree, got %d fields", len(tokens))
	}
	m, err := ParseModulus(tokens[0])
	if err != nil {
		return nil, 0, err
	}
	degree, err := strconv.Atoi(tokens[1])
	if err != nil {
		return nil, 0, fmt.Errorf("field: read setup: degree: %w", err)
	}
	return m, degree, nil
}

// LoadSetup reads the setup file at path and builds the field parameters.
func LoadSetup(path string, shift uint) (*Params, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("field: open setup: %w", err)
	}
	defer f.Close()

	m, degree, err := ReadSetup(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewParams(m, degree, shift)
}
