package enrich

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrColumnsMissing reports that required address columns are absent from
// the header. This aborts the run before any row is processed.
var ErrColumnsMissing = eris.New("input is missing required address columns")

// columnIndex maps logical address fields to header positions; -1 means
// the column is absent.
type columnIndex struct {
	CEP          int
	Street       int
	Neighborhood int
	Municipality int
	State        int
}

// columnAliases maps logical fields to accepted header names, compared
// case-insensitively after trimming.
var columnAliases = map[string][]string{
	"cep":          {"cd_cep", "cep", "codigo_cep", "postal_code", "zipcode", "zip"},
	"street":       {"nm_logradouro", "logradouro", "street", "endereco", "endereço", "rua"},
	"neighborhood": {"nm_bairro", "bairro", "neighborhood"},
	"municipality": {"nm_municipio", "municipio", "município", "cidade", "city", "localidade"},
	"state":        {"nm_uf", "uf", "estado", "state"},
}

// requiredColumns must all be present; neighborhood is optional because the
// geocoding fallbacks can work without it.
var requiredColumns = []string{"cep", "street", "municipality", "state"}

// ResolveColumns matches header names against the alias table. Missing
// required columns produce ErrColumnsMissing naming every absent field.
func ResolveColumns(header []string) (columnIndex, error) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		byName[normalizeHeader(h)] = i
	}

	find := func(logical string) int {
		for _, alias := range columnAliases[logical] {
			if idx, ok := byName[alias]; ok {
				return idx
			}
		}
		return -1
	}

	cols := columnIndex{
		CEP:          find("cep"),
		Street:       find("street"),
		Neighborhood: find("neighborhood"),
		Municipality: find("municipality"),
		State:        find("state"),
	}

	var missing []string
	for _, logical := range requiredColumns {
		present := map[string]int{
			"cep":          cols.CEP,
			"street":       cols.Street,
			"municipality": cols.Municipality,
			"state":        cols.State,
		}[logical]
		if present < 0 {
			missing = append(missing, logical)
		}
	}
	if len(missing) > 0 {
		return columnIndex{}, eris.Wrapf(ErrColumnsMissing, "%s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\uFEFF")
	return strings.ToLower(strings.TrimSpace(h))
}
