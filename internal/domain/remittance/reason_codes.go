package remittance

// carcDescriptions maps Claim Adjustment Reason Codes to short descriptions.
// Only codes commonly seen on professional remittances are listed.
var carcDescriptions = map[string]string{
	"1":   "Deductible amount",
	"2":   "Coinsurance amount",
	"3":   "Co-payment amount",
	"4":   "Procedure code inconsistent with modifier or modifier missing",
	"5":   "Procedure code inconsistent with place of service",
	"6":   "Procedure inconsistent with patient age",
	"11":  "Diagnosis inconsistent with procedure",
	"15":  "Authorization number missing or invalid",
	"16":  "Claim lacks information needed for adjudication",
	"18":  "Exact duplicate claim or service",
	"22":  "Care may be covered by another payer per coordination of benefits",
	"23":  "Impact of prior payer adjudication",
	"24":  "Charges covered under capitation agreement",
	"26":  "Expenses incurred prior to coverage",
	"27":  "Expenses incurred after coverage terminated",
	"29":  "Time limit for filing has expired",
	"31":  "Patient cannot be identified as our insured",
	"45":  "Charge exceeds fee schedule or maximum allowable",
	"50":  "Non-covered service, not deemed a medical necessity",
	"59":  "Processed based on multiple or concurrent procedure rules",
	"96":  "Non-covered charge(s)",
	"97":  "Benefit included in payment for another service",
	"109": "Claim not covered by this payer",
	"119": "Benefit maximum for this time period has been reached",
	"129": "Prior processing information appears incorrect",
	"133": "Disposition pending further review",
	"146": "Diagnosis was invalid for the date of service",
	"151": "Payment adjusted because frequency of services is not supported",
	"167": "Diagnosis is not covered",
	"197": "Precertification or authorization absent",
	"204": "Service not covered under the patient's benefit plan",
	"222": "Exceeds contracted maximum number of hours, days or units",
	"226": "Information requested was not provided or was insufficient",
	"234": "Procedure is not paid separately",
	"236": "Procedure or modifier combination not compatible",
	"242": "Services not provided by network or primary care providers",
	"253": "Sequestration reduction in federal payment",
	"A1":  "Claim or service denied",
	"B7":  "Provider not certified for this procedure on this date of service",
}

// ReasonDescription returns the description for a CARC, or "" when unknown.
func ReasonDescription(code string) string {
	return carcDescriptions[code]
}
