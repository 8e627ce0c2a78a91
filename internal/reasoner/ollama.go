package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
)

// Ollama is a Reasoner backed by a local Ollama chat/generate model. Prompts
// ask for a simple line-oriented response shape and are parsed the same
// tolerant, prefix-matching way across every method.
type Ollama struct {
	baseURL    string
	model      string
	enabled    bool
	httpClient *http.Client
}

// NewOllama creates a client bound to baseURL/model.
func NewOllama(baseURL, model string, enabled bool) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5:3b"
	}
	return &Ollama{
		baseURL:    baseURL,
		model:      model,
		enabled:    enabled,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Ollama) IsAvailable(ctx context.Context) bool {
	if !c.enabled {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *Ollama) generate(ctx context.Context, operation, prompt string) (string, error) {
	if !c.enabled {
		return "", claimerr.UnavailableErr(operation, fmt.Errorf("ollama reasoner is disabled"))
	}

	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", claimerr.InvalidErr(operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", claimerr.InvalidErr(operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", claimerr.TimeoutErr(operation, err)
		}
		return "", claimerr.UnavailableErr(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", claimerr.UnavailableErr(operation, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", claimerr.UnavailableErr(operation, err)
	}
	return decoded.Response, nil
}

// ExtractClaims prompts the model to propose subject/predicate/object
// triples from text, one per line in "SUBJECT | PREDICATE | OBJECT" form.
func (c *Ollama) ExtractClaims(ctx context.Context, text string, format string, queryCtx QueryContext) ([]ClaimProposal, error) {
	prompt := fmt.Sprintf(`Extract factual claims from the following text as subject-predicate-object triples.

Text:
%s

Respond with one claim per line in the form:
SUBJECT | PREDICATE | OBJECT

If no claims can be extracted, respond with NONE.`, text)

	response, err := c.generate(ctx, "reasoner.ExtractClaims", prompt)
	if err != nil {
		return nil, err
	}

	var proposals []ClaimProposal
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, "NONE") {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			continue
		}
		t := claim.Triple{
			Subject:   strings.TrimSpace(parts[0]),
			Predicate: strings.TrimSpace(parts[1]),
			Object:    strings.TrimSpace(parts[2]),
		}
		if t.Empty() {
			continue
		}
		proposals = append(proposals, ClaimProposal{
			Triple:        t,
			RawExpression: line,
			Confidence:    claim.Interval{Lo: 0.5, Hi: 0.8},
			SourceContext: text,
		})
	}
	return proposals, nil
}

// EvaluatePromotion asks the model whether c should cross boundary.
func (c *Ollama) EvaluatePromotion(ctx context.Context, cl claim.Claim, advocacy string, queryCtx QueryContext, boundary string) (PromotionResult, error) {
	prompt := fmt.Sprintf(`A claim is being considered for promotion across the %s boundary.

Claim: %s %s %s
Current tier: %s
Advocacy: %s

Respond with:
DECISION: [accept|downgrade|reject_to_ephemeral|defer]
TARGET_TIER: [only if downgrade: ephemeral|task|project|permanent]
REASONING: [brief explanation]`, boundary, cl.Triple.Subject, cl.Triple.Predicate, cl.Triple.Object, cl.Tier, advocacy)

	response, err := c.generate(ctx, "reasoner.EvaluatePromotion", prompt)
	if err != nil {
		return PromotionResult{}, err
	}

	result := PromotionResult{Decision: DecisionDefer}
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "DECISION:"):
			result.Decision = PromotionDecision(strings.ToLower(strings.TrimSpace(line[len("DECISION:"):])))
		case strings.HasPrefix(upper, "TARGET_TIER:"):
			result.TargetTier = claim.Tier(strings.ToLower(strings.TrimSpace(line[len("TARGET_TIER:"):])))
		case strings.HasPrefix(upper, "REASONING:"):
			result.Reasoning = strings.TrimSpace(line[len("REASONING:"):])
		}
	}

	switch result.Decision {
	case DecisionAccept, DecisionDowngrade, DecisionRejectToEphemeral, DecisionDefer:
	default:
		result.Decision = DecisionDefer
		result.Reasoning = "malformed reasoner response, deferring"
	}
	return result, nil
}

// Synthesize asks the model to propose derived claims from a cluster.
func (c *Ollama) Synthesize(ctx context.Context, clusterIDs []string, namespace string) ([]SynthProposal, error) {
	prompt := fmt.Sprintf(`Given a cluster of %d related claims in namespace %q, propose any claims that follow
from combining them. Respond one per line as:
SUBJECT | PREDICATE | OBJECT | LO | HI

If nothing can be synthesized, respond with NONE.`, len(clusterIDs), namespace)

	response, err := c.generate(ctx, "reasoner.Synthesize", prompt)
	if err != nil {
		return nil, err
	}

	var proposals []SynthProposal
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, "NONE") {
			continue
		}
		parts := strings.SplitN(line, "|", 5)
		if len(parts) != 5 {
			continue
		}
		lo, errLo := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		hi, errHi := strconv.ParseFloat(strings.TrimSpace(parts[4]), 64)
		if errLo != nil || errHi != nil {
			continue
		}
		proposals = append(proposals, SynthProposal{
			Triple: claim.Triple{
				Subject:   strings.TrimSpace(parts[0]),
				Predicate: strings.TrimSpace(parts[1]),
				Object:    strings.TrimSpace(parts[2]),
			},
			RawExpression: line,
			Confidence:    claim.Interval{Lo: lo, Hi: hi},
			ParentIDs:     clusterIDs,
		})
	}
	return proposals, nil
}

// DetectContradictions asks the model to judge each candidate pair.
func (c *Ollama) DetectContradictions(ctx context.Context, pairs []ContradictionPair) ([]ContradictionResult, error) {
	results := make([]ContradictionResult, 0, len(pairs))
	for _, pair := range pairs {
		prompt := fmt.Sprintf(`Do claims %s and %s semantically contradict each other?

Respond with:
CONTRADICTS: [yes|no]
WEAKER: [claim id of the weaker claim, if contradicts]
REASONING: [brief explanation]`, pair.ClaimAID, pair.ClaimBID)

		response, err := c.generate(ctx, "reasoner.DetectContradictions", prompt)
		if err != nil {
			return nil, err
		}

		result := ContradictionResult{Pair: pair}
		for _, line := range strings.Split(response, "\n") {
			line = strings.TrimSpace(line)
			upper := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(upper, "CONTRADICTS:"):
				result.Contradicts = strings.EqualFold(strings.TrimSpace(line[len("CONTRADICTS:"):]), "yes")
			case strings.HasPrefix(upper, "WEAKER:"):
				result.WeakerClaimID = strings.TrimSpace(line[len("WEAKER:"):])
			case strings.HasPrefix(upper, "REASONING:"):
				result.Reasoning = strings.TrimSpace(line[len("REASONING:"):])
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// EvaluateConfidence asks the model for query-contextual confidence per
// claim; never overwrites the cached fast-path value (caller's concern).
func (c *Ollama) EvaluateConfidence(ctx context.Context, claims []claim.Claim, queryCtx QueryContext) ([]IntervalWithReasoning, error) {
	results := make([]IntervalWithReasoning, 0, len(claims))
	for _, cl := range claims {
		prompt := fmt.Sprintf(`Given the query %q, how confident should one be in this claim: %s %s %s?

Respond with:
LO: [lower bound 0-1]
HI: [upper bound 0-1]
REASONING: [brief explanation]`, queryCtx.Query, cl.Triple.Subject, cl.Triple.Predicate, cl.Triple.Object)

		response, err := c.generate(ctx, "reasoner.EvaluateConfidence", prompt)
		if err != nil {
			return nil, err
		}

		ivr := IntervalWithReasoning{ClaimID: cl.ID, Interval: cl.BaseConfidence}
		for _, line := range strings.Split(response, "\n") {
			line = strings.TrimSpace(line)
			upper := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(upper, "LO:"):
				if v, err := strconv.ParseFloat(strings.TrimSpace(line[len("LO:"):]), 64); err == nil {
					ivr.Interval.Lo = v
				}
			case strings.HasPrefix(upper, "HI:"):
				if v, err := strconv.ParseFloat(strings.TrimSpace(line[len("HI:"):]), 64); err == nil {
					ivr.Interval.Hi = v
				}
			case strings.HasPrefix(upper, "REASONING:"):
				ivr.Reasoning = strings.TrimSpace(line[len("REASONING:"):])
			}
		}
		ivr.Interval = ivr.Interval.Clamp()
		results = append(results, ivr)
	}
	return results, nil
}

// ClassifyDomain asks the model to pick the best matching domain profile.
func (c *Ollama) ClassifyDomain(ctx context.Context, cl claim.Claim, profiles []string) (Classification, error) {
	prompt := fmt.Sprintf(`Classify this claim into one of the following domains: %s

Claim: %s %s %s

Respond with:
DOMAIN: [chosen domain]
CONFIDENCE: [0-1]`, strings.Join(profiles, ", "), cl.Triple.Subject, cl.Triple.Predicate, cl.Triple.Object)

	response, err := c.generate(ctx, "reasoner.ClassifyDomain", prompt)
	if err != nil {
		return Classification{}, err
	}

	result := Classification{}
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "DOMAIN:"):
			result.Domain = strings.TrimSpace(line[len("DOMAIN:"):])
		case strings.HasPrefix(upper, "CONFIDENCE:"):
			if v, err := strconv.ParseFloat(strings.TrimSpace(line[len("CONFIDENCE:"):]), 64); err == nil {
				result.Confidence = v
			}
		}
	}
	return result, nil
}
