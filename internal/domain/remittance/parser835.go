package remittance

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ehr/revcycle/internal/platform/x12"
)

// maxCASTriplets is the number of reason/amount/quantity groups one CAS
// segment carries after the group code.
const maxCASTriplets = 6

// Parse decodes a raw 835 document. On a StructuralParseError the returned
// ERA still holds every claim payment completed before the failure.
func Parse(raw string) (*ERA, error) {
	p := &parser835{era: &ERA{Status: StatusReceived, ClaimPayments: []ClaimPayment{}}, stIndex: -1}

	lines := x12.SplitSegments(raw)
	if len(lines) == 0 {
		return p.era, &x12.StructuralParseError{Index: -1, Reason: "empty document"}
	}
	for i, line := range lines {
		seg, err := x12.Decode(line)
		if err != nil {
			return p.result(), &x12.StructuralParseError{Index: i, Reason: "malformed segment", Err: err}
		}
		if err := p.handle(i, seg); err != nil {
			return p.result(), err
		}
	}
	if p.stIndex >= 0 {
		return p.result(), &x12.StructuralParseError{Index: -1, SegmentID: "ST", Reason: "transaction set not closed by SE"}
	}

	p.flush()
	return p.result(), nil
}

type parser835 struct {
	era     *ERA
	claim   *ClaimPayment
	lines   []ServiceLinePayment
	stIndex int
	stCtl   string
}

func (p *parser835) handle(i int, seg x12.Segment) error {
	fail := func(reason string, err error) error {
		return &x12.StructuralParseError{Index: i, SegmentID: seg.ID, Reason: reason, Err: err}
	}

	switch seg.ID {
	case "ISA":
		p.era.InterchangeControl = strings.TrimSpace(seg.Element(13))
	case "ST":
		if seg.Element(1) != "835" {
			return fail("transaction set is not an 835", nil)
		}
		p.stIndex = i
		p.stCtl = seg.Element(2)
	case "SE":
		if p.stIndex < 0 {
			return fail("SE without ST", nil)
		}
		if n, err := strconv.Atoi(seg.Element(1)); err != nil || n != i-p.stIndex+1 {
			return fail("segment count does not match SE01", err)
		}
		if seg.Element(2) != p.stCtl {
			return fail("SE02 does not match ST02", nil)
		}
		// Claims never span transaction sets.
		p.flush()
		p.stIndex = -1
	case "BPR":
		amt, err := x12.ParseAmount(seg.Element(2))
		if err != nil {
			return fail("invalid payment amount", err)
		}
		p.era.ReportedPaymentAmount = amt
		p.era.PaymentMethod = seg.Element(4)
		if d := seg.Element(16); d != "" {
			t, err := x12.ParseDate(d)
			if err != nil {
				return fail("invalid check date", err)
			}
			p.era.CheckDate = &t
		}
		p.assignTrace()
	case "TRN":
		p.era.TraceNumber = seg.Element(2)
		p.assignTrace()
	case "N1":
		switch seg.Element(1) {
		case "PR":
			p.era.PayerName = seg.Element(2)
			if id := seg.Element(4); id != "" {
				p.era.PayerID = id
			}
		case "PE":
			p.era.PayeeName = seg.Element(2)
			p.era.PayeeID = seg.Element(4)
		}
	case "REF":
		if seg.Element(1) == "2U" && p.era.PayerID == "" {
			p.era.PayerID = seg.Element(2)
		}
	case "CLP":
		p.flush()
		cp, err := decodeCLP(seg)
		if err != nil {
			return fail("invalid claim payment", err)
		}
		p.claim = cp
	case "SVC":
		if p.claim == nil {
			return fail("service line outside a claim payment", nil)
		}
		line, err := decodeSVC(seg)
		if err != nil {
			return fail("invalid service line", err)
		}
		p.lines = append(p.lines, line)
	case "CAS":
		if p.claim == nil {
			return fail("adjustment outside a claim payment", nil)
		}
		adjs, err := decodeCAS(seg)
		if err != nil {
			return fail("invalid adjustment", err)
		}
		if n := len(p.lines); n > 0 {
			p.lines[n-1].Adjustments = append(p.lines[n-1].Adjustments, adjs...)
		} else {
			p.claim.Adjustments = append(p.claim.Adjustments, adjs...)
		}
	case "DTM":
		if p.claim == nil {
			return nil
		}
		switch seg.Element(1) {
		case "232":
			t, err := x12.ParseDate(seg.Element(2))
			if err != nil {
				return fail("invalid service date", err)
			}
			p.claim.ServiceDate = &t
		case "472":
			if n := len(p.lines); n > 0 {
				t, err := x12.ParseDate(seg.Element(2))
				if err != nil {
					return fail("invalid service date", err)
				}
				p.lines[n-1].ServiceDate = &t
			}
		}
	}
	return nil
}

// flush closes the claim payment being accumulated, if any.
func (p *parser835) flush() {
	if p.claim == nil {
		return
	}
	p.claim.ServiceLines = append(p.claim.ServiceLines, p.lines...)
	p.era.ClaimPayments = append(p.era.ClaimPayments, *p.claim)
	p.claim = nil
	p.lines = nil
}

func (p *parser835) assignTrace() {
	if p.era.TraceNumber == "" {
		return
	}
	if p.era.PaymentMethod == "CHK" {
		p.era.CheckNumber = p.era.TraceNumber
		p.era.EFTTraceNumber = ""
	} else {
		p.era.EFTTraceNumber = p.era.TraceNumber
		p.era.CheckNumber = ""
	}
}

func (p *parser835) result() *ERA {
	total := decimal.Zero
	for _, cp := range p.era.ClaimPayments {
		total = total.Add(cp.PaidAmount)
	}
	p.era.PaymentAmount = total
	return p.era
}

func decodeCLP(seg x12.Segment) (*ClaimPayment, error) {
	if seg.Element(1) == "" {
		return nil, errMissing("CLP01 claim number")
	}
	cp := &ClaimPayment{
		ClaimNumber:             seg.Element(1),
		StatusCode:              seg.Element(2),
		PayerClaimControlNumber: seg.Element(7),
		ServiceLines:            []ServiceLinePayment{},
	}
	var err error
	if cp.BilledAmount, err = x12.ParseAmount(seg.Element(3)); err != nil {
		return nil, err
	}
	if cp.PaidAmount, err = x12.ParseAmount(seg.Element(4)); err != nil {
		return nil, err
	}
	if cp.PatientResponsibility, err = x12.ParseAmount(seg.Element(5)); err != nil {
		return nil, err
	}
	return cp, nil
}

func decodeSVC(seg x12.Segment) (ServiceLinePayment, error) {
	proc := seg.Components(1)
	if len(proc) < 2 || proc[1] == "" {
		return ServiceLinePayment{}, errMissing("SVC01 procedure code")
	}
	line := ServiceLinePayment{
		ProcedureCode: proc[1],
		Adjustments:   []PaymentAdjustment{},
	}
	for _, m := range proc[2:] {
		if m != "" {
			line.Modifiers = append(line.Modifiers, m)
		}
	}
	var err error
	if line.BilledAmount, err = x12.ParseAmount(seg.Element(2)); err != nil {
		return line, err
	}
	if line.PaidAmount, err = x12.ParseAmount(seg.Element(3)); err != nil {
		return line, err
	}
	if line.Units, err = x12.ParseQuantity(seg.Element(5), decimal.NewFromInt(1)); err != nil {
		return line, err
	}
	return line, nil
}

func decodeCAS(seg x12.Segment) ([]PaymentAdjustment, error) {
	group := seg.Element(1)
	if group == "" {
		return nil, errMissing("CAS01 group code")
	}
	var adjs []PaymentAdjustment
	for t := 0; t < maxCASTriplets; t++ {
		base := 2 + t*3
		reason := seg.Element(base)
		if reason == "" {
			continue
		}
		amt, err := x12.ParseAmount(seg.Element(base + 1))
		if err != nil {
			return nil, err
		}
		qty, err := x12.ParseQuantity(seg.Element(base+2), decimal.Zero)
		if err != nil {
			return nil, err
		}
		adjs = append(adjs, PaymentAdjustment{
			GroupCode:   group,
			ReasonCode:  reason,
			Amount:      amt,
			Quantity:    qty,
			Description: ReasonDescription(reason),
		})
	}
	if len(adjs) == 0 {
		return nil, errMissing("CAS02 reason code")
	}
	return adjs, nil
}

func errMissing(what string) error { return fmt.Errorf("missing %s", what) }
