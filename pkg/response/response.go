package response

import (
	"encoding/json"
	"net/http"
)

// JSONResponseParameters is the envelope every HTTP endpoint answers with.
type JSONResponseParameters struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Data    any    `json:"data,omitempty"`
	Msg     string `json:"message,omitempty"`
	ErrMsg  string `json:"error,omitempty"`
}

func JSON(w http.ResponseWriter, params JSONResponseParameters) error {
	return JSONWithHeaders(w, params, nil)
}

// JSONWithHeaders writes params as JSON with the given extra headers.
// A zero Status is treated as 200 and marks the response successful.
func JSONWithHeaders(w http.ResponseWriter, params JSONResponseParameters, headers http.Header) error {
	if params.Status == 0 {
		params.Status = http.StatusOK
	}
	if params.Status < http.StatusBadRequest && params.ErrMsg == "" {
		params.Success = true
	}

	js, err := json.Marshal(params)
	if err != nil {
		return err
	}
	js = append(js, '\n')

	for key, value := range headers {
		w.Header()[key] = value
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(params.Status)
	_, err = w.Write(js)
	return err
}
