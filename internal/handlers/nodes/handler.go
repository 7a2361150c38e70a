package nodes

import (
	"net/http"

	"github.com/gorilla/mux"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/services/coordinator"
	"gitlab.com/encodefarm.net/internal/handlers"
)

type ApiHandler struct {
	Coordinator coordinator.IMasterCoordinator
	Logger      primary.Logger
}

func NewHandler(coord coordinator.IMasterCoordinator, logger primary.Logger) *ApiHandler {
	return &ApiHandler{
		Coordinator: coord,
		Logger:      logger,
	}
}

func (api *ApiHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/nodes", api.GetNodes).Methods("GET")
	r.HandleFunc("/api/nodes/{nodeId}/disconnect", api.DisconnectNode).Methods("POST")
	r.HandleFunc("/api/nodes/{nodeId}", api.RemoveNode).Methods("DELETE")
}

func (api *ApiHandler) GetNodes(w http.ResponseWriter, r *http.Request) {
	handlers.ResponseWithJson(w, http.StatusOK, api.Coordinator.Nodes())
}

// DisconnectNode asks the worker to shut down
func (api *ApiHandler) DisconnectNode(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["nodeId"]
	if err := api.Coordinator.DisconnectNode(r.Context(), nodeID); err != nil {
		api.Logger.Error("Failed to disconnect node", "nodeID", nodeID, "error", err)
		handlers.ResponseError(w, err.Error(), handlers.StatusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *ApiHandler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["nodeId"]
	if err := api.Coordinator.RemoveNode(r.Context(), nodeID); err != nil {
		handlers.ResponseError(w, err.Error(), handlers.StatusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
