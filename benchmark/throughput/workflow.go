package main

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

type sheetResponse struct {
	ID string `json:"id"`
}

// runOneSheet drives a single synthetic sheet from ingestion through
// scoring, exercising the coordinator's full happy-path stage sequence.
func runOneSheet(c *HTTPClient, examID, paperID, keyID string, totalQuestions, workerID int) error {
	rollNumber := fmt.Sprintf("BENCH-%d-%d", workerID, nowSuffix())

	ingestResp, err := c.POST("/sheets", map[string]interface{}{
		"exam_id":            examID,
		"question_paper_id":  paperID,
		"answer_key_id":      keyID,
		"roll_number":        rollNumber,
		"image_content_hash": rollNumber,
	})
	if err != nil {
		return err
	}
	var sheet sheetResponse
	if err := UnmarshalBody(ingestResp, &sheet); err != nil {
		return err
	}

	qResp, err := c.POST("/sheets/"+sheet.ID+"/quality", map[string]interface{}{"image_bytes": []byte("synthetic-sheet-image")})
	if err != nil {
		return err
	}
	if err := expectOK(qResp); err != nil {
		return err
	}

	entries := make([]map[string]interface{}, totalQuestions)
	for i := 0; i < totalQuestions; i++ {
		entries[i] = map[string]interface{}{"question_number": i + 1, "detected_answer": "A", "confidence": 0.95}
	}
	bResp, err := c.POST("/sheets/"+sheet.ID+"/bubbles", map[string]interface{}{"entries": entries})
	if err != nil {
		return err
	}
	if err := expectOK(bResp); err != nil {
		return err
	}

	rResp, err := c.POST("/sheets/"+sheet.ID+"/reconcile", map[string]interface{}{
		"answer_key_id":   keyID,
		"total_questions": totalQuestions,
	})
	if err != nil {
		return err
	}
	if err := expectOK(rResp); err != nil {
		return err
	}

	sResp, err := c.POST("/sheets/"+sheet.ID+"/score", map[string]interface{}{"answer_key_id": keyID})
	if err != nil {
		return err
	}
	return expectOK(sResp)
}

func expectOK(resp *http.Response) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

var seqCounter int64

func nowSuffix() int64 {
	return atomic.AddInt64(&seqCounter, 1)
}
