package transfer

type FacebookToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type FacebookPage struct {
	ID                       string           `json:"id"`
	Name                     string           `json:"name"`
	AccessToken              string           `json:"access_token"`
	InstagramBusinessAccount *InstagramProfile `json:"instagram_business_account"`
}

type FacebookPages struct {
	Data []FacebookPage `json:"data"`
}

type InstagramProfile struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profile_picture_url"`
}

type InstagramPublishingLimit struct {
	Data []struct {
		Config struct {
			QuotaTotal    int `json:"quota_total"`
			QuotaDuration int `json:"quota_duration"`
		} `json:"config"`
		QuotaUsage int `json:"quota_usage"`
	} `json:"data"`
}

type InstagramContainer struct {
	ID         string `json:"id"`
	StatusCode string `json:"status_code"`
}

type InstagramErrorResponse struct {
	Error struct {
		Message        string `json:"message"`
		Type           string `json:"type"`
		Code           int    `json:"code"`
		ErrorSubcode   int    `json:"error_subcode"`
		IsTransient    bool   `json:"is_transient"`
		ErrorUserTitle string `json:"error_user_title"`
		ErrorUserMsg   string `json:"error_user_msg"`
		FbtraceID      string `json:"fbtrace_id"`
	} `json:"error"`
}
