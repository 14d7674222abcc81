package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/exchangestack/interfaces"
	"github.com/customeros/exchangestack/internal/enum"
)

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports every running account, with a count per connection
// status.
func Status(exchangeService interfaces.ExchangeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts := exchangeService.Status()
		counts := make(map[enum.ConnectionStatus]int)
		for _, status := range accounts {
			counts[status.Status]++
		}
		c.JSON(http.StatusOK, gin.H{
			"accounts": accounts,
			"summary":  counts,
		})
	}
}
