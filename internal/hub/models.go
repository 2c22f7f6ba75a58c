package hub

// Endpoint names used for rate limiting, breakers and metrics. They
// match the Hub's path segments.
const (
	EndpointRegisterCitizen          = "registerCitizen"
	EndpointUnregisterCitizen        = "unregisterCitizen"
	EndpointAuthenticateDocument     = "authenticateDocument"
	EndpointValidateCitizen          = "validateCitizen"
	EndpointGetOperators             = "getOperators"
	EndpointRegisterOperator         = "registerOperator"
	EndpointRegisterTransferEndpoint = "registerTransferEndPoint"
)

// Endpoints lists every Hub endpoint this client calls, in a stable
// order for dashboards.
var Endpoints = []string{
	EndpointRegisterCitizen,
	EndpointUnregisterCitizen,
	EndpointAuthenticateDocument,
	EndpointValidateCitizen,
	EndpointGetOperators,
	EndpointRegisterOperator,
	EndpointRegisterTransferEndpoint,
}

// Field names below follow the Hub's wire contract, including its
// inconsistent casing (UrlDocument, operatorId).

type RegisterCitizenRequest struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Address      string `json:"address"`
	Email        string `json:"email"`
	OperatorID   string `json:"operatorId"`
	OperatorName string `json:"operatorName"`
}

type UnregisterCitizenRequest struct {
	ID           int64  `json:"id"`
	OperatorID   string `json:"operatorId"`
	OperatorName string `json:"operatorName"`
}

type AuthenticateDocumentRequest struct {
	IDCitizen     int64  `json:"idCitizen"`
	URLDocument   string `json:"UrlDocument"`
	DocumentTitle string `json:"documentTitle"`
}

type RegisterOperatorRequest struct {
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	ContactMail  string   `json:"contactMail"`
	Participants []string `json:"participants"`
}

type RegisterTransferEndpointRequest struct {
	IDOperator      string `json:"idOperator"`
	Endpoint        string `json:"endPoint"`
	EndpointConfirm string `json:"endPointConfirm"`
}

// Operator is one entry of the Hub's getOperators response, after
// normalization.
type Operator struct {
	ID             string `json:"operatorId"`
	Name           string `json:"operatorName"`
	TransferAPIURL string `json:"transferAPIURL"`
}

// Result is the uniform outcome of a Hub call. Success reflects the
// classified outcome, not the raw status code: the Hub encodes some
// failures as 2xx bodies and some successes as non-2xx.
type Result struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// ValidateResult carries the extra "citizen known to the Hub" signal
// of validateCitizen. A 204 is a clean "not found", not a failure.
type ValidateResult struct {
	Result
	Found bool `json:"found"`
}
