package locate

import "github.com/facturaIA/extraction-service/internal/models"

// fieldLabels lists folded labels per field, most specific first. exclude
// rejects lines that carry the label in another sense.
type fieldLabels struct {
	labels  []string
	exclude []string
	// anywhere allows a label-less match of the value type over the whole
	// document once every label failed
	anywhere bool
	// lineStart only accepts labels opening their line
	lineStart bool
}

var invoiceLabels = map[string]fieldLabels{
	models.FieldHT: {
		labels: []string{"total hors taxes", "total ht", "montant ht", "montant hors taxes", "sous-total ht",
			"sous total ht", "sous-total", "sous total", "net ht", "base ht", "prix ht"},
	},
	models.FieldTTC: {
		labels: []string{"total ttc", "montant ttc", "net a payer", "total a payer", "montant a payer",
			"total toutes taxes", "reste a payer", "ttc"},
	},
	models.FieldTVAAmt: {
		labels:  []string{"total tva", "montant tva", "montant de la tva", "montant t.v.a", "t.v.a", "tva"},
		exclude: tvaIDWords,
	},
	models.FieldTVAPct: {
		labels:  []string{"taux de tva", "taux tva", "taux", "tva", "t.v.a"},
		exclude: tvaIDWords,
	},
	models.FieldDateDoc: {
		labels: []string{"date de facture", "date facture", "date de la facture", "date d'emission",
			"date d emission", "emise le", "date du ticket", "date"},
		exclude:  []string{"echeance", "limite", "livraison", "naissance"},
		anywhere: true,
	},
	models.FieldSIRET: {
		labels:   []string{"siret", "n° siret", "no siret"},
		anywhere: true,
	},
	models.FieldNumFacture: {
		labels: []string{"facture n°", "facture no", "facture n", "n° de facture", "n° facture", "no facture",
			"numero de facture", "numero facture", "facture #", "ref. facture", "ref facture",
			"ticket n°", "recu n°", "facture"},
		exclude: []string{"date de facture", "date facture", "adresse de facturation"},
	},
}

var tenderLabels = map[string]fieldLabels{
	models.FieldDeadline: {
		labels: []string{"date limite de remise des offres", "date limite de reception des offres",
			"date limite de remise", "date limite de reception", "date limite", "remise des offres",
			"au plus tard le", "avant le"},
	},
	models.FieldOrganization: {
		labels: []string{"nom de l'organisme", "pouvoir adjudicateur", "entite adjudicatrice", "acheteur public",
			"acheteur", "maitre d'ouvrage", "organisme", "collectivite"},
	},
	models.FieldCity: {
		labels:    []string{"lieu d'execution", "ville", "commune", "localite"},
		lineStart: true,
	},
	models.FieldPostalCode: {
		labels: []string{"code postal", "cp"},
	},
	models.FieldBudget: {
		labels: []string{"montant total estime", "montant estime", "valeur estimee", "montant previsionnel",
			"budget previsionnel", "budget"},
	},
	models.FieldReference: {
		labels: []string{"reference du marche", "reference de l'avis", "reference de la consultation",
			"n° de marche", "n° du marche", "avis n°", "marche n°", "reference", "ref."},
	},
}

var tvaIDWords = []string{"intracom", "n° tva", "no tva", "numero de tva", "numero tva", "tva non applicable"}

func labelsFor(kind models.DocumentKind) map[string]fieldLabels {
	if kind == models.KindTenderNotice {
		return tenderLabels
	}
	return invoiceLabels
}

// Stop words that never start a supplier name line
var notSupplierStarts = []string{"facture", "devis", "date", "ticket", "recu", "avis", "client", "page",
	"n°", "total", "bon de", "adresse", "tel ", "tel:", "tel.", "email", "siret", "tva", "www.", "http"}

// Legal forms that mark a company name line
var legalForms = []string{" sas", " sarl", " sa", " eurl", " sasu", " sci", " snc", " scop", " selarl"}
