package core

// FailureReason is the machine-readable cause of a rejected document.
type FailureReason string

const (
	ReasonMissingAmount     FailureReason = "missing_amount"
	ReasonUnparseableDate   FailureReason = "unparseable_date"
	ReasonAmbiguousMerchant FailureReason = "ambiguous_merchant"
	ReasonEmptyOutput       FailureReason = "empty_output"

	ReasonAmountOutOfRange   FailureReason = "amount_out_of_range"
	ReasonDateOutOfTolerance FailureReason = "date_out_of_tolerance"
)

// NormalizationFailure explains why raw model output could not be turned
// into a candidate record. It is a value, not an error: the caller shows it
// to the submitter and does not retry.
type NormalizationFailure struct {
	Reason FailureReason
	Detail string
}

// ValidationFailure explains why a candidate broke a business rule.
type ValidationFailure struct {
	Reason FailureReason
	Detail string
}

func (f NormalizationFailure) String() string {
	return describe(f.Reason, f.Detail)
}

func (f ValidationFailure) String() string {
	return describe(f.Reason, f.Detail)
}

func describe(reason FailureReason, detail string) string {
	if detail == "" {
		return string(reason)
	}
	return string(reason) + ": " + detail
}

// Message returns a short human-readable sentence for the reason.
func (r FailureReason) Message() string {
	switch r {
	case ReasonMissingAmount:
		return "no total amount could be read from the document"
	case ReasonUnparseableDate:
		return "the transaction date could not be read"
	case ReasonAmbiguousMerchant:
		return "the merchant name is missing or ambiguous"
	case ReasonEmptyOutput:
		return "nothing could be extracted from the document"
	case ReasonAmountOutOfRange:
		return "the amount is outside the accepted range"
	case ReasonDateOutOfTolerance:
		return "the transaction date is outside the accepted window"
	default:
		return string(r)
	}
}
