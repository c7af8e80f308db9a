package unify

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Tip is a community-verified contest strategy before unification.
type Tip struct {
	Title    string
	Content  string
	Category string
	Quality  float64
	Tags     []string
}

// builtinTips is the curated starter catalog shipped with the engine.
// Each content carries an explicit strategy line so the assembler can
// surface actionable advice separately from background text.
var builtinTips = []Tip{
	{
		Title:    "Sinalização da zona azul deficiente",
		Category: "estacionamento",
		Quality:  0.85,
		Tags:     []string{"zona azul", "sinalização"},
		Content: "A delimitação de uma zona de estacionamento de duração limitada exige " +
			"sinalização vertical visível em todos os acessos. Fotografias que mostrem a " +
			"ausência ou ocultação dos sinais enfraquecem o auto. " +
			"Estratégia: fotografar todos os acessos à zona no próprio dia e juntar as " +
			"imagens à defesa, invocando sinalização insuficiente.",
	},
	{
		Title:    "Talão de parquímetro válido mas mal visível",
		Category: "estacionamento",
		Quality:  0.8,
		Tags:     []string{"parquímetro", "talão"},
		Content: "Quando o talão estava pago e dentro do período mas caiu ou ficou voltado " +
			"para baixo, a infração material não existe. " +
			"Estratégia: juntar o talão original ou o comprovativo da aplicação de " +
			"pagamento com data e hora, pedindo o arquivamento do auto.",
	},
	{
		Title:    "Notificação fora do prazo legal",
		Category: "outros",
		Quality:  0.9,
		Tags:     []string{"prazo", "notificação"},
		Content: "A notificação do auto de contraordenação está sujeita a prazos legais. " +
			"Uma notificação tardia pode determinar a prescrição do procedimento. " +
			"Estratégia: verificar a data da infração contra a data de receção da " +
			"notificação e invocar prescrição quando o prazo foi excedido.",
	},
	{
		Title:    "Erro na identificação do veículo",
		Category: "outros",
		Quality:  0.85,
		Tags:     []string{"auto", "matrícula"},
		Content: "Um auto com matrícula, marca ou cor erradas não identifica o veículo de " +
			"forma inequívoca. " +
			"Estratégia: apontar cada divergência entre o auto e o documento único do " +
			"veículo e requerer o arquivamento por insuficiência do auto.",
	},
	{
		Title:    "Margem de erro do radar",
		Category: "velocidade",
		Quality:  0.85,
		Tags:     []string{"radar", "margem de erro"},
		Content: "Os cinemómetros têm margens de erro legais que devem ser deduzidas ao " +
			"valor medido. Um auto que não demonstre a dedução é contestável. " +
			"Estratégia: pedir o certificado de verificação do aparelho e confirmar que a " +
			"margem legal foi aplicada à velocidade registada.",
	},
	{
		Title:    "Certificado de verificação do cinemómetro caducado",
		Category: "velocidade",
		Quality:  0.9,
		Tags:     []string{"radar", "certificado"},
		Content: "A medição só é válida se o aparelho tiver verificação metrológica em " +
			"vigor à data da infração. " +
			"Estratégia: requerer cópia do certificado de verificação e arguir a " +
			"invalidade da medição quando estiver caducado.",
	},
	{
		Title:    "Semáforo avariado ou intermitente",
		Category: "sinalizacao",
		Quality:  0.8,
		Tags:     []string{"semáforo"},
		Content: "Com o sinal luminoso avariado ou em intermitência, o regime aplicável " +
			"muda e a infração por desrespeito de sinal vermelho pode não se verificar. " +
			"Estratégia: pedir o registo de avarias do equipamento à entidade gestora " +
			"para o dia e hora da alegada infração.",
	},
	{
		Title:    "Pagamento voluntário não impede defesa do condutor identificado",
		Category: "documentacao",
		Quality:  0.8,
		Tags:     []string{"pagamento", "identificação"},
		Content: "Identificar o condutor e pagar pela coima mínima são atos distintos; a " +
			"identificação errada do condutor pode ser corrigida. " +
			"Estratégia: responder à notificação dentro do prazo indicando o condutor " +
			"efetivo antes de qualquer pagamento.",
	},
}

// BuiltinTips returns a copy of the shipped strategy catalog.
func BuiltinTips() []Tip {
	out := make([]Tip, len(builtinTips))
	copy(out, builtinTips)
	return out
}

// LoadCatalogXLSX reads additional community tips from a spreadsheet.
// Expected columns on the first sheet: title, content, category, quality,
// tags (semicolon separated). The first row is a header and is skipped.
func LoadCatalogXLSX(path string) ([]Tip, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("unify: opening catalog: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("unify: catalog has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("unify: reading catalog rows: %w", err)
	}

	var tips []Tip
	for i, row := range rows {
		if i == 0 || len(row) < 2 {
			continue
		}
		tip := Tip{
			Title:   strings.TrimSpace(row[0]),
			Content: strings.TrimSpace(row[1]),
			Quality: 0.75,
		}
		if tip.Title == "" || tip.Content == "" {
			continue
		}
		if len(row) > 2 && strings.TrimSpace(row[2]) != "" {
			tip.Category = strings.ToLower(strings.TrimSpace(row[2]))
		} else {
			tip.Category = ClassifyCategory(tip.Content)
		}
		if len(row) > 3 {
			if q, err := parseQuality(row[3]); err == nil {
				tip.Quality = q
			}
		}
		if len(row) > 4 {
			for _, tag := range strings.Split(row[4], ";") {
				if tag = strings.TrimSpace(tag); tag != "" {
					tip.Tags = append(tip.Tags, tag)
				}
			}
		}
		tips = append(tips, tip)
	}
	return tips, nil
}

func parseQuality(s string) (float64, error) {
	var q float64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &q); err != nil {
		return 0, err
	}
	if q < 0 || q > 1 {
		return 0, fmt.Errorf("quality %f out of range", q)
	}
	return q, nil
}
