package kg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "gemma3:4b"

	defaultExtractorWorkers = 4
)

const ollamaExtractorPromptTemplate = `You are a knowledge-graph extraction system. Extract typed entities and facts from the text below.

Output schema (return exactly this JSON structure, one line, no markdown fences):
{"entities":[{"type":"string","name":"string","properties":{}}],"facts":[{"subject":"string","predicate":"string","object":"string"}]}

Entity rules:
- Use ONLY these entity types: %s
- name is the fullest canonical name found in the text (e.g. "Stockholm Chair" not "the chair", "@woodworker_pro" not "the reviewer").
- properties may carry extra attributes found in the text (e.g. {"value":5} for a rating).
- No duplicate entities of the same type and name.

Fact rules:
- Use ONLY these fact patterns: %s
- predicate is the lowercase snake_case pattern name; subject and object reference entity names from the entities list.
- No duplicate facts.

If nothing can be extracted, return {"entities":[],"facts":[]}.

Text:
%s`

// OllamaExtractor implements EntityExtractor using Ollama /api/generate with
// JSON-constrained output. Chunks are extracted concurrently up to
// MaxParallel workers; any chunk failure fails the batch.
type OllamaExtractor struct {
	BaseURL     string
	Model       string
	MaxParallel int
}

// NewOllamaExtractor creates an Ollama extractor with optional overrides.
func NewOllamaExtractor(baseURL, model string) *OllamaExtractor {
	trimmedBaseURL := strings.TrimSpace(baseURL)
	if trimmedBaseURL == "" {
		trimmedBaseURL = defaultOllamaBaseURL
	}

	trimmedModel := strings.TrimSpace(model)
	if trimmedModel == "" {
		trimmedModel = defaultOllamaModel
	}

	return &OllamaExtractor{
		BaseURL:     trimmedBaseURL,
		Model:       trimmedModel,
		MaxParallel: defaultExtractorWorkers,
	}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

type ollamaExtractionResult struct {
	Entities []ExtractedEntity `json:"entities"`
	Facts    []ExtractedFact   `json:"facts"`
}

var _ EntityExtractor = (*OllamaExtractor)(nil)

func (o *OllamaExtractor) extractChunk(ctx context.Context, chunk TextChunk, plan ExtractionPlan) (*ollamaExtractionResult, error) {
	prompt := fmt.Sprintf(ollamaExtractorPromptTemplate,
		strings.Join(plan.EntityTypes, ", "),
		strings.Join(factPatternLines(plan), "; "),
		chunk.Text,
	)
	payload, err := json.Marshal(ollamaGenerateRequest{
		Model:  o.Model,
		Prompt: prompt,
		Format: "json",
		Stream: false,
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(o.BaseURL, "/") + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 512))
		if readErr != nil {
			return nil, fmt.Errorf("ollama extract request failed with status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("ollama extract request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, err
	}

	var result ollamaExtractionResult
	if err := json.Unmarshal([]byte(response.Response), &result); err != nil {
		return nil, fmt.Errorf("ollama extract parse failed for chunk %s: %w", chunk.ID, err)
	}
	return &result, nil
}

// filterResult drops entities outside the allowed types, facts outside the
// allowed patterns, and duplicates. Models drift; the plan is the contract.
func filterResult(result *ollamaExtractionResult, plan ExtractionPlan) ([]ExtractedEntity, []ExtractedFact) {
	allowed := make(map[string]bool, len(plan.EntityTypes))
	for _, t := range plan.EntityTypes {
		allowed[t] = true
	}

	seenEntities := make(map[string]struct{}, len(result.Entities))
	entities := make([]ExtractedEntity, 0, len(result.Entities))
	for _, e := range result.Entities {
		e.Name = strings.TrimSpace(e.Name)
		e.Type = strings.TrimSpace(e.Type)
		if e.Name == "" || !allowed[e.Type] {
			continue
		}
		key := e.Type + "\x00" + e.Name
		if _, ok := seenEntities[key]; ok {
			continue
		}
		seenEntities[key] = struct{}{}
		entities = append(entities, e)
	}

	seenFacts := make(map[string]struct{}, len(result.Facts))
	facts := make([]ExtractedFact, 0, len(result.Facts))
	for _, f := range result.Facts {
		f.Subject = strings.TrimSpace(f.Subject)
		f.Object = strings.TrimSpace(f.Object)
		f.Predicate = strings.ToLower(strings.TrimSpace(f.Predicate))
		if f.Subject == "" || f.Object == "" {
			continue
		}
		if _, ok := plan.FactTypeFor(f.Predicate); !ok {
			continue
		}
		key := f.Subject + "\x00" + f.Predicate + "\x00" + f.Object
		if _, ok := seenFacts[key]; ok {
			continue
		}
		seenFacts[key] = struct{}{}
		facts = append(facts, f)
	}

	return entities, facts
}

// Extract implements EntityExtractor.
func (o *OllamaExtractor) Extract(ctx context.Context, chunks []TextChunk, plan ExtractionPlan) (*Extraction, error) {
	extraction := &Extraction{ChunkEntities: make(map[string][]string)}
	if len(chunks) == 0 {
		return extraction, nil
	}

	workers := o.MaxParallel
	if workers <= 0 {
		workers = defaultExtractorWorkers
	}
	if workers > len(chunks) {
		workers = len(chunks)
	}

	type chunkResult struct {
		result *ollamaExtractionResult
		err    error
	}

	results := make([]chunkResult, len(chunks))

	if workers <= 1 {
		for i, chunk := range chunks {
			results[i].result, results[i].err = o.extractChunk(ctx, chunk, plan)
		}
	} else {
		workerCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		jobs := make(chan int, workers)

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for idx := range jobs {
					result, err := o.extractChunk(workerCtx, chunks[idx], plan)
					if err != nil {
						results[idx].err = err
						cancel()
						continue
					}
					results[idx].result = result
				}
			}()
		}

		go func() {
			for i := range chunks {
				select {
				case <-workerCtx.Done():
					break
				case jobs <- i:
				}
			}
			close(jobs)
		}()

		wg.Wait()
	}

	for i := range results {
		if results[i].err != nil {
			return nil, results[i].err
		}
		if results[i].result == nil {
			continue
		}
		entities, facts := filterResult(results[i].result, plan)
		extraction.Entities = append(extraction.Entities, entities...)
		extraction.Facts = append(extraction.Facts, facts...)
		for _, e := range entities {
			extraction.ChunkEntities[chunks[i].ID] = append(extraction.ChunkEntities[chunks[i].ID], e.Name)
		}
	}

	return extraction, nil
}
