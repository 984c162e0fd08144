// Agent HTTP handlers.
//
// The agent catalog is provisioned through configuration and read-only at
// runtime; this endpoint lets partners discover which agent codes they may
// pass to POST /chat/run.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AgentResponse is one entry of the agent catalog.
type AgentResponse struct {
	Code string `json:"code" example:"support"`
	Name string `json:"name" example:"Support Copilot"`
}

// ListAgentsResponse wraps the agent catalog.
type ListAgentsResponse struct {
	Agents []AgentResponse `json:"agents"`
}

// ListAgents godoc
// @ID          listAgents
// @Summary     List available agents
// @Description Returns the catalog of agent codes the caller may use in chat runs.
// @Tags        Agents
// @Produce     json
//
// @Success     200  {object} handlers.ListAgentsResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Router      /agents [get]
func (h *Handlers) ListAgents(c *gin.Context) {
	agents := h.agents.List()
	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, AgentResponse{Code: a.Code, Name: a.Name})
	}
	ok(c, http.StatusOK, ListAgentsResponse{Agents: out})
}
