package claim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ehr/revcycle/internal/platform/x12"
)

// Implementation guide identifiers for the professional claim.
const (
	x12Version        = "00501"
	implementationRef = "005010X222A1"
)

// ErrInvalidBatch is returned when a batch contains claims that fail
// validation.
var ErrInvalidBatch = errors.New("claim: batch contains invalid claims")

// InvalidBatchError carries the failing validation results.
type InvalidBatchError struct {
	Results []*ValidationResult
}

func (e *InvalidBatchError) Error() string {
	numbers := make([]string, len(e.Results))
	for i, r := range e.Results {
		numbers[i] = r.ClaimNumber
	}
	return fmt.Sprintf("%v: %s", ErrInvalidBatch, strings.Join(numbers, ", "))
}

func (e *InvalidBatchError) Unwrap() error { return ErrInvalidBatch }

// EnvelopeConfig identifies the submitter and receiver of generated files.
type EnvelopeConfig struct {
	SenderID       string
	SenderName     string
	ContactName    string
	ContactPhone   string
	ReceiverID     string
	ReceiverName   string
	UsageIndicator string // "P" production, "T" test
}

// Batch is one generated 837P interchange.
type Batch struct {
	InterchangeControl int64     `json:"interchange_control"`
	GroupControl       int64     `json:"group_control"`
	TransactionControl string    `json:"transaction_control"`
	ClaimNumbers       []string  `json:"claim_numbers"`
	SegmentCount       int       `json:"segment_count"`
	CreatedAt          time.Time `json:"created_at"`
	Content            string    `json:"-"`
}

// Encoder generates 837P interchanges.
type Encoder struct {
	env       EnvelopeConfig
	seq       x12.ControlNumberSequence
	validator *Validator
	now       func() time.Time
}

// NewEncoder creates an Encoder. When validator is non-nil every claim is
// validated before encoding and a batch with invalid claims is refused.
func NewEncoder(env EnvelopeConfig, seq x12.ControlNumberSequence, validator *Validator) *Encoder {
	if env.UsageIndicator == "" {
		env.UsageIndicator = "P"
	}
	return &Encoder{env: env, seq: seq, validator: validator, now: time.Now}
}

// SetClock overrides the time source used for envelope timestamps.
func (e *Encoder) SetClock(now func() time.Time) {
	e.now = now
}

// Encode builds one interchange containing all claims.
func (e *Encoder) Encode(ctx context.Context, claims []*Claim, opts ValidateOptions) (*Batch, error) {
	if len(claims) == 0 {
		return nil, fmt.Errorf("claim: batch requires at least one claim")
	}

	if e.validator != nil {
		var failed []*ValidationResult
		for _, c := range claims {
			if res := e.validator.Validate(c, opts); !res.IsValid {
				failed = append(failed, res)
			}
		}
		if len(failed) > 0 {
			return nil, &InvalidBatchError{Results: failed}
		}
	}

	isaCtl, err := e.seq.Next(ctx, x12.InterchangeSequence)
	if err != nil {
		return nil, err
	}
	gsCtl, err := e.seq.Next(ctx, x12.GroupSequence)
	if err != nil {
		return nil, err
	}
	stSeq, err := e.seq.Next(ctx, x12.TransactionSequence)
	if err != nil {
		return nil, err
	}
	stCtl := x12.FormatControlNumber(stSeq, 4)

	now := e.now().UTC()

	header := []x12.Segment{e.isa(isaCtl, now), e.gs(gsCtl, now)}

	tx := []x12.Segment{
		x12.NewSegment("ST", "837", stCtl, implementationRef),
		x12.NewSegment("BHT", "0019", "00", x12.FormatControlNumber(isaCtl, 9), x12.FormatDate(now), now.Format("1504"), "CH"),
		x12.NewSegment("NM1", "41", "2", e.env.SenderName, "", "", "", "", "46", e.env.SenderID),
		x12.NewSegment("PER", "IC", e.env.ContactName, "TE", e.env.ContactPhone),
		x12.NewSegment("NM1", "40", "2", e.env.ReceiverName, "", "", "", "", "46", e.env.ReceiverID),
	}

	hl := 0
	numbers := make([]string, 0, len(claims))
	for _, c := range claims {
		tx = append(tx, claimLoop(c, &hl)...)
		numbers = append(numbers, c.ClaimNumber)
	}

	// SE01 counts every segment from ST through SE inclusive.
	segCount := len(tx) + 1
	tx = append(tx, x12.NewSegment("SE", fmt.Sprintf("%d", segCount), stCtl))

	trailer := []x12.Segment{
		x12.NewSegment("GE", "1", fmt.Sprintf("%d", gsCtl)),
		x12.NewSegment("IEA", "1", x12.FormatControlNumber(isaCtl, 9)),
	}

	all := make([]x12.Segment, 0, len(header)+len(tx)+len(trailer))
	all = append(all, header...)
	all = append(all, tx...)
	all = append(all, trailer...)

	return &Batch{
		InterchangeControl: isaCtl,
		GroupControl:       gsCtl,
		TransactionControl: stCtl,
		ClaimNumbers:       numbers,
		SegmentCount:       segCount,
		CreatedAt:          now,
		Content:            x12.Join(all),
	}, nil
}

func (e *Encoder) isa(ctl int64, now time.Time) x12.Segment {
	return x12.NewSegment("ISA",
		"00", x12.Pad("", 10),
		"00", x12.Pad("", 10),
		"ZZ", x12.Pad(e.env.SenderID, 15),
		"ZZ", x12.Pad(e.env.ReceiverID, 15),
		now.Format("060102"), now.Format("1504"),
		x12.RepetitionSeparator, x12Version,
		x12.FormatControlNumber(ctl, 9),
		"0", e.env.UsageIndicator, x12.ComponentSeparator,
	)
}

func (e *Encoder) gs(ctl int64, now time.Time) x12.Segment {
	return x12.NewSegment("GS", "HC", e.env.SenderID, e.env.ReceiverID,
		x12.FormatDate(now), now.Format("1504"), fmt.Sprintf("%d", ctl), "X", implementationRef)
}

// claimLoop emits the hierarchical levels and claim detail for one claim.
// hl is the running hierarchical id counter shared across the transaction.
func claimLoop(c *Claim, hl *int) []x12.Segment {
	var segs []x12.Segment

	*hl++
	providerHL := *hl
	segs = append(segs,
		x12.NewSegment("HL", fmt.Sprintf("%d", providerHL), "", "20", "1"),
		x12.NewSegment("NM1", "85", "2", c.BillingProvider.Name, "", "", "", "", "XX", c.BillingProvider.NPI),
	)
	if addr := c.BillingProvider.Address; addr.Line1 != "" {
		n3 := x12.NewSegment("N3", addr.Line1)
		if addr.Line2 != "" {
			n3.Elements = append(n3.Elements, addr.Line2)
		}
		segs = append(segs, n3, x12.NewSegment("N4", addr.City, addr.State, addr.Zip))
	}
	if c.BillingProvider.TaxID != "" {
		segs = append(segs, x12.NewSegment("REF", "EI", c.BillingProvider.TaxID))
	}

	separatePatient := c.HasSeparatePatient()
	*hl++
	subscriberHL := *hl
	childCode := "0"
	relationship := "18"
	if separatePatient {
		childCode = "1"
		relationship = ""
	}
	segs = append(segs,
		x12.NewSegment("HL", fmt.Sprintf("%d", subscriberHL), fmt.Sprintf("%d", providerHL), "22", childCode),
		x12.NewSegment("SBR", "P", relationship, "", "", "", "", "", "", "CI"),
		x12.NewSegment("NM1", "IL", "1", c.SubscriberLastName, c.SubscriberFirstName, "", "", "", "MI", c.InsuranceID),
		x12.NewSegment("NM1", "PR", "2", c.PayerName, "", "", "", "", "PI", c.PayerID),
	)

	if separatePatient {
		*hl++
		segs = append(segs,
			x12.NewSegment("HL", fmt.Sprintf("%d", *hl), fmt.Sprintf("%d", subscriberHL), "23", "0"),
			x12.NewSegment("PAT", "19"),
			x12.NewSegment("NM1", "QC", "1", c.PatientLastName, c.PatientFirstName, "", "", "", "", ""),
		)
		// NM1*QC carries no id qualifier; drop the trailing empties.
		last := &segs[len(segs)-1]
		last.Elements = trimEmpty(last.Elements)
	}

	pos := c.PlaceOfService
	if pos == "" {
		pos = "11"
	}
	segs = append(segs, x12.NewSegment("CLM", c.ClaimNumber, x12.FormatAmount(c.TotalCharges()), "", "",
		x12.Composite(pos, "B", "1"), "Y", "A", "Y", "Y"))
	if c.PriorAuthNumber != "" {
		segs = append(segs, x12.NewSegment("REF", "G1", c.PriorAuthNumber))
	}
	if c.ReferralNumber != "" {
		segs = append(segs, x12.NewSegment("REF", "9F", c.ReferralNumber))
	}

	if diags := c.Diagnoses(); len(diags) > 0 {
		hi := x12.Segment{ID: "HI"}
		for i, code := range diags {
			qualifier := "ABF"
			if i == 0 {
				qualifier = "ABK"
			}
			hi.Elements = append(hi.Elements, x12.Composite(qualifier, strings.ReplaceAll(code, ".", "")))
		}
		segs = append(segs, hi)
	}

	if c.RenderingProviderNPI != "" {
		segs = append(segs, x12.NewSegment("NM1", "82", "1", "", "", "", "", "", "XX", c.RenderingProviderNPI))
	}

	for i, ch := range c.Charges {
		proc := append([]string{"HC", ch.ProcedureCode}, ch.Modifiers...)
		pointers := make([]string, len(ch.DiagnosisPointers))
		for j, p := range ch.DiagnosisPointers {
			pointers[j] = fmt.Sprintf("%d", p)
		}
		if len(pointers) == 0 {
			pointers = []string{"1"}
		}
		date := c.ServiceDate
		if ch.ServiceDate != nil {
			date = *ch.ServiceDate
		}
		segs = append(segs,
			x12.NewSegment("LX", fmt.Sprintf("%d", i+1)),
			x12.NewSegment("SV1", x12.Composite(proc...), x12.FormatAmount(ch.TotalCharge), "UN",
				fmt.Sprintf("%d", ch.Quantity), "", "", x12.Composite(pointers...)),
			x12.NewSegment("DTP", "472", "D8", x12.FormatDate(date)),
		)
	}

	return segs
}

func trimEmpty(elements []string) []string {
	end := len(elements)
	for end > 0 && elements[end-1] == "" {
		end--
	}
	return elements[:end]
}
