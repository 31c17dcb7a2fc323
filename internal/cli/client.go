package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// CampaignResponse — кампания из API.
type CampaignResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Subject     string `json:"subject"`
	TemplateID  string `json:"template_id"`
	SentCount   int64  `json:"sent_count"`
	FailedCount int64  `json:"failed_count"`
	CreatedAt   string `json:"created_at"`
}

// RegisterResultResponse — итог bulk-регистрации из API.
type RegisterResultResponse struct {
	Created    int                      `json:"created"`
	Duplicates int                      `json:"duplicates"`
	Errors     int                      `json:"errors"`
	Details    []RegisterDetailResponse `json:"details"`
}

// RegisterDetailResponse — исход регистрации одного получателя.
type RegisterDetailResponse struct {
	Email   string `json:"email"`
	JobKey  string `json:"job_key,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// SendResponse — запись send ledger'а из API.
type SendResponse struct {
	JobKey            string `json:"job_key"`
	CampaignID        string `json:"campaign_id"`
	Email             string `json:"email"`
	CustomerID        string `json:"customer_id,omitempty"`
	Status            string `json:"status"`
	Attempts          int    `json:"attempts"`
	MaxAttempts       int    `json:"max_attempts"`
	LastError         string `json:"last_error,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	SentAt            string `json:"sent_at,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

// FlowResponse — flow из API.
type FlowResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	IsActive    bool              `json:"is_active"`
	Steps       []json.RawMessage `json:"steps"`
	TriggerCron string            `json:"trigger_cron,omitempty"`
	Completions int64             `json:"completions"`
	EmailsSent  int64             `json:"emails_sent"`
	CreatedAt   string            `json:"created_at"`
}

// ExecutionResponse — execution из API.
type ExecutionResponse struct {
	ID             string         `json:"id"`
	FlowID         string         `json:"flow_id"`
	CustomerID     string         `json:"customer_id"`
	TriggerKey     string         `json:"trigger_key"`
	Status         string         `json:"status"`
	CurrentStep    int            `json:"current_step"`
	CompletedSteps []int          `json:"completed_steps"`
	Context        map[string]any `json:"context,omitempty"`
	ResumeAt       string         `json:"resume_at,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

// --- Request types ---

// CreateCampaignRequest — создание кампании.
type CreateCampaignRequest struct {
	Name       string `json:"name"`
	Subject    string `json:"subject"`
	TemplateID string `json:"template_id,omitempty"`
}

// RecipientRequest — получатель для регистрации.
type RecipientRequest struct {
	Email      string `json:"email"`
	CustomerID string `json:"customer_id,omitempty"`
}

// CreateFlowRequest — создание flow.
type CreateFlowRequest struct {
	Name        string            `json:"name"`
	Steps       []json.RawMessage `json:"steps,omitempty"`
	TriggerCron string            `json:"trigger_cron,omitempty"`
	IsActive    bool              `json:"is_active,omitempty"`
}

// TriggerFlowRequest — запуск flow для customer'а.
type TriggerFlowRequest struct {
	CustomerID string `json:"customer_id"`
	TriggerKey string `json:"trigger_key,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Outreach API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Campaigns ---

// CreateCampaign создаёт новую кампанию.
func (c *Client) CreateCampaign(req CreateCampaignRequest) (*CampaignResponse, error) {
	var campaign CampaignResponse
	err := c.post("/api/v1/campaigns", req, &campaign)
	return &campaign, err
}

// GetCampaign возвращает кампанию по ID.
func (c *Client) GetCampaign(id string) (*CampaignResponse, error) {
	var campaign CampaignResponse
	err := c.get("/api/v1/campaigns/"+id, &campaign)
	return &campaign, err
}

// RegisterRecipients регистрирует получателей кампании.
func (c *Client) RegisterRecipients(campaignID string, recipients []RecipientRequest) (*RegisterResultResponse, error) {
	body := map[string]any{"recipients": recipients}
	var result RegisterResultResponse
	err := c.post("/api/v1/campaigns/"+campaignID+"/recipients", body, &result)
	return &result, err
}

// ListRecipients возвращает записи ledger'а кампании.
func (c *Client) ListRecipients(campaignID string, limit int) ([]SendResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var sends []SendResponse
	err := c.list("/api/v1/campaigns/"+campaignID+"/recipients", params, &sends)
	return sends, err
}

// --- Sends ---

// GetSend возвращает запись send ledger'а по job key.
func (c *Client) GetSend(jobKey string) (*SendResponse, error) {
	var send SendResponse
	err := c.get("/api/v1/sends/"+url.PathEscape(jobKey), &send)
	return &send, err
}

// --- Flows ---

// ListFlows возвращает все flows.
func (c *Client) ListFlows() ([]FlowResponse, error) {
	var flows []FlowResponse
	err := c.list("/api/v1/flows", nil, &flows)
	return flows, err
}

// CreateFlow создаёт новый flow.
func (c *Client) CreateFlow(req CreateFlowRequest) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.post("/api/v1/flows", req, &flow)
	return &flow, err
}

// GetFlow возвращает flow по ID.
func (c *Client) GetFlow(id string) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.get("/api/v1/flows/"+id, &flow)
	return &flow, err
}

// DeleteFlow удаляет flow.
func (c *Client) DeleteFlow(id string) error {
	return c.delete("/api/v1/flows/" + id)
}

// SetFlowActive включает или выключает flow.
func (c *Client) SetFlowActive(id string, active bool) (*FlowResponse, error) {
	var flow FlowResponse
	body := map[string]bool{"is_active": active}
	err := c.put("/api/v1/flows/"+id+"/active", body, &flow)
	return &flow, err
}

// TriggerFlow запускает flow для customer'а.
func (c *Client) TriggerFlow(flowID string, req TriggerFlowRequest) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.post("/api/v1/flows/"+flowID+"/trigger", req, &exec)
	return &exec, err
}

// --- Executions ---

// GetExecution возвращает execution по ID.
func (c *Client) GetExecution(id string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.get("/api/v1/executions/"+id, &exec)
	return &exec, err
}

// ListExecutions возвращает executions одного flow.
func (c *Client) ListExecutions(flowID string, limit int) ([]ExecutionResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var execs []ExecutionResponse
	err := c.list("/api/v1/flows/"+flowID+"/executions", params, &execs)
	return execs, err
}

// CancelExecution отменяет execution.
func (c *Client) CancelExecution(id string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.post("/api/v1/executions/"+id+"/cancel", nil, &exec)
	return &exec, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
